// Package testutil provides common testing utilities and fakes shared by the
// storefront packages.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Notification is one message captured by RecordingNotifier.
type Notification struct {
	Template string
	Data     map[string]any
	Address  string
}

// RecordingNotifier captures notifications instead of sending them.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

// Notify records the call and returns Err.
func (r *RecordingNotifier) Notify(_ context.Context, template string, data map[string]any, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{Template: template, Data: data, Address: address})
	return r.Err
}

// Sent returns a copy of the recorded notifications.
func (r *RecordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// ProviderStub is a fake payment provider verification endpoint.
type ProviderStub struct {
	*httptest.Server

	mu     sync.Mutex
	bodies []string
}

// NewProviderStub starts a verification endpoint that answers every request
// with status and body. It is closed when the test ends.
func NewProviderStub(t testing.TB, status int, body string) *ProviderStub {
	t.Helper()
	stub := &ProviderStub{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		stub.mu.Lock()
		stub.bodies = append(stub.bodies, string(raw))
		stub.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(stub.Close)
	return stub
}

// Requests returns the request bodies received so far.
func (p *ProviderStub) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.bodies...)
}
