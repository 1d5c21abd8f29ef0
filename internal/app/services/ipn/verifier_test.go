package ipn

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sailfish-mobile/storefront/pkg/logger"
	"github.com/sailfish-mobile/storefront/pkg/testutil"
)

func TestPayPalVerifierPostsValidateCommand(t *testing.T) {
	stub := testutil.NewProviderStub(t, http.StatusOK, "VERIFIED")
	v := NewPayPalVerifier(stub.URL, time.Second, logger.NewNop())

	res := v.Verify(context.Background(), []byte("txn_id=T1&custom=abc"))
	if !res.Verified {
		t.Fatalf("expected verified, got %+v", res)
	}
	reqs := stub.Requests()
	if len(reqs) != 1 || reqs[0] != "cmd=_notify-validate&txn_id=T1&custom=abc" {
		t.Fatalf("provider received %q", reqs)
	}
	if res.Request != reqs[0] {
		t.Fatalf("recorded request %q", res.Request)
	}
}

func TestPayPalVerifierRejections(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"invalid", http.StatusOK, "INVALID"},
		{"trailing newline", http.StatusOK, "VERIFIED\n"},
		{"lower case", http.StatusOK, "verified"},
		{"server error", http.StatusInternalServerError, "VERIFIED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := testutil.NewProviderStub(t, tc.status, tc.body)
			res := NewPayPalVerifier(stub.URL, time.Second, logger.NewNop()).Verify(context.Background(), []byte("custom=x"))
			if res.Verified {
				t.Fatalf("expected rejection for %d %q", tc.status, tc.body)
			}
			if res.Reason == "" {
				t.Fatalf("rejection without reason")
			}
		})
	}
}

func TestPayPalVerifierUnreachableIsRejection(t *testing.T) {
	stub := testutil.NewProviderStub(t, http.StatusOK, "VERIFIED")
	url := stub.URL
	stub.Close()

	res := NewPayPalVerifier(url, 200*time.Millisecond, logger.NewNop()).Verify(context.Background(), []byte("custom=x"))
	if res.Verified {
		t.Fatalf("unreachable provider verified a notification")
	}
	if res.Response != "" {
		t.Fatalf("response = %q, want empty", res.Response)
	}
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte("payment_status=Completed&mc_gross=9.99&mc_currency=USD&txn_id=T1&custom=+tx-1+"))
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	want := Notification{PaymentStatus: "Completed", Gross: "9.99", Currency: "USD", TxnID: "T1", TransactionID: "tx-1"}
	if n != want {
		t.Fatalf("got %+v, want %+v", n, want)
	}

	for _, raw := range []string{"", "txn_id=T1", "custom=%zz", "custom=+"} {
		if _, err := ParseNotification([]byte(raw)); err == nil {
			t.Fatalf("ParseNotification(%q) accepted a malformed payload", raw)
		}
	}
}
