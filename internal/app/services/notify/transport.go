package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sailfish-mobile/storefront/internal/httputil"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// RelayTransport posts messages to an HTTP mail relay as JSON.
type RelayTransport struct {
	url    string
	apiKey string
	client *httputil.Client
	log    *logger.Logger
}

// NewRelayTransport creates a relay transport.
func NewRelayTransport(url, apiKey string, timeout time.Duration, log *logger.Logger) *RelayTransport {
	if log == nil {
		log = logger.NewDefault("mail-relay")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelayTransport{
		url:    url,
		apiKey: apiKey,
		client: httputil.NewClient(httputil.ClientConfig{Timeout: timeout, MaxBody: 64 << 10}),
		log:    log,
	}
}

// Send delivers msg. The relay answers with a JSON document carrying either
// an "id" or an "error.message".
func (t *RelayTransport) Send(ctx context.Context, msg Message) error {
	headers := map[string]string{}
	if t.apiKey != "" {
		headers["Authorization"] = "Bearer " + t.apiKey
	}
	resp, err := t.client.PostJSON(ctx, t.url, headers, msg)
	if err != nil {
		return err
	}

	body := gjson.ParseBytes(resp.Body)
	if resp.StatusCode >= 300 {
		reason := body.Get("error.message").String()
		if reason == "" {
			reason = string(resp.Body)
		}
		return fmt.Errorf("mail relay status %d: %s", resp.StatusCode, reason)
	}
	id := body.Get("id").String()
	if id == "" {
		id = body.Get("message_id").String()
	}
	t.log.Debugf("mail relay accepted message %s for %s", id, msg.To)
	return nil
}

// LogTransport writes messages to the log instead of sending them.
type LogTransport struct {
	log *logger.Logger
}

// NewLogTransport creates a log-only transport.
func NewLogTransport(log *logger.Logger) *LogTransport {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogTransport{log: log}
}

func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.log.WithField("to", msg.To).WithField("subject", msg.Subject).Info(msg.Text)
	return nil
}
