package ipn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sailfish-mobile/storefront/internal/app/metrics"
	"github.com/sailfish-mobile/storefront/internal/httputil"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// Provider verification endpoints.
const (
	SandboxVerifyURL    = "https://www.sandbox.paypal.com/cgi-bin/webscr"
	ProductionVerifyURL = "https://www.paypal.com/cgi-bin/webscr"
)

const (
	validateCommand  = "cmd=_notify-validate&"
	verifiedResponse = "VERIFIED"
)

// Verification is the provider's answer about one notification.
type Verification struct {
	Verified bool
	// Request is the exact body posted to the provider.
	Request string
	// Response is the provider's body, or empty when the call failed.
	Response string
	// Reason explains a rejection.
	Reason string
}

// Verifier confirms a raw notification out of band with the provider. It
// never returns an error: anything but a positive confirmation is a
// rejection.
type Verifier interface {
	Verify(ctx context.Context, raw []byte) Verification
}

// PayPalVerifier posts notifications back to PayPal's validation endpoint.
type PayPalVerifier struct {
	endpoint string
	client   *httputil.Client
	log      *logger.Logger
}

// NewPayPalVerifier creates a verifier for endpoint, which is either
// SandboxVerifyURL or ProductionVerifyURL as chosen by configuration.
func NewPayPalVerifier(endpoint string, timeout time.Duration, log *logger.Logger) *PayPalVerifier {
	if log == nil {
		log = logger.NewDefault("ipn-verifier")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PayPalVerifier{
		endpoint: endpoint,
		client:   httputil.NewClient(httputil.ClientConfig{Timeout: timeout, MaxBody: 4 << 10}),
		log:      log,
	}
}

func (v *PayPalVerifier) Verify(ctx context.Context, raw []byte) Verification {
	body := validateCommand + string(raw)
	result := Verification{Request: body}

	start := time.Now()
	resp, err := v.client.PostForm(ctx, v.endpoint, body)
	defer func() { metrics.RecordVerification(time.Since(start), result.Verified) }()

	if err != nil {
		v.log.WithError(err).Warn("ipn verification request failed")
		result.Reason = fmt.Sprintf("provider unreachable: %v", err)
		return result
	}
	result.Response = string(resp.Body)
	if resp.StatusCode != http.StatusOK {
		result.Reason = fmt.Sprintf("provider status %d", resp.StatusCode)
		return result
	}
	if result.Response != verifiedResponse {
		result.Reason = "provider did not verify notification"
		return result
	}
	result.Verified = true
	return result
}
