// Package httputil provides the HTTP client used for calls to outside services
// such as the payment provider and the mail relay.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBodyTooLarge is returned by ReadAllStrict when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("httputil: response body too large")

// =============================================================================
// Client
// =============================================================================

// Client wraps http.Client with a default timeout and size-limited reads.
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxBody    int64
}

// ClientConfig configures the client.
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string
	// MaxBody caps how much of a response body is read. Defaults to 1 MiB.
	MaxBody int64
	// Transport overrides the round tripper, mostly for tests.
	Transport http.RoundTripper
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "sailfish-storefront"
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: cfg.Transport},
		userAgent:  userAgent,
		maxBody:    maxBody,
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Truncated  bool
}

// PostForm posts an already encoded form body and reads the response.
func (c *Client) PostForm(ctx context.Context, url, body string) (Response, error) {
	return c.post(ctx, url, "application/x-www-form-urlencoded", strings.NewReader(body), nil)
}

// PostJSON posts payload encoded as JSON with the extra headers and reads the
// response.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload any) (Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.post(ctx, url, "application/json", bytes.NewReader(raw), headers)
}

func (c *Client) post(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, truncated, err := ReadAllWithLimit(resp.Body, c.maxBody)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: data, Truncated: truncated}, nil
}

// =============================================================================
// Body helpers
// =============================================================================

// ReadAllWithLimit reads at most limit bytes from r. truncated reports whether
// more data was available.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads r fully and fails with ErrBodyTooLarge beyond limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// DecodeResponse decodes a JSON response body into target. Error statuses are
// reported with the (truncated) body text.
func DecodeResponse(resp Response, target any) error {
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(resp.Body))
		if resp.Truncated {
			msg += "...(truncated)"
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
	}
	if target == nil {
		return nil
	}
	if resp.Truncated {
		return ErrBodyTooLarge
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
