package activation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/services/catalog"
	"github.com/sailfish-mobile/storefront/internal/app/services/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/internal/app/storage/memory"
)

func TestGenerateKnownValue(t *testing.T) {
	// md5("ABCD|secret") encoded with standard base64.
	const want = "z9Z7XHzw4hoIROiRnWSVSw=="
	code, err := Generate("ABCD", "secret")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if code != want {
		t.Fatalf("code = %q, want %q", code, want)
	}
	raw, err := base64.StdEncoding.DecodeString(code)
	if err != nil || len(raw) != 16 {
		t.Fatalf("code is not a base64 md5 digest: %v", err)
	}
	again, _ := Generate("ABCD", "secret")
	if code != again {
		t.Fatalf("generate is not deterministic: %q vs %q", code, again)
	}
}

func TestGenerateRejectsEmptyInputs(t *testing.T) {
	if _, err := Generate("", "secret"); !errors.Is(err, ErrEmptyPIN) {
		t.Fatalf("expected ErrEmptyPIN, got %v", err)
	}
	if _, err := Generate("ABCD", ""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
	if Validate("", "", "") {
		t.Fatalf("validate accepted empty inputs")
	}
}

func TestValidateRoundTrip(t *testing.T) {
	pins := []string{"ABCD", "ABCE", "1234", "ÉF", "A|B"}
	secrets := []string{"secret", "secreT", "s", "another secret"}
	seen := make(map[string]string)

	for _, pin := range pins {
		for _, secret := range secrets {
			code, err := Generate(pin, secret)
			if err != nil {
				t.Fatalf("generate(%q, %q): %v", pin, secret, err)
			}
			if !Validate(code, pin, secret) {
				t.Fatalf("validate rejected its own code for %q/%q", pin, secret)
			}
			key := pin + "\x00" + secret
			if prev, dup := seen[code]; dup {
				t.Fatalf("collision between %q and %q", prev, key)
			}
			seen[code] = key
		}
	}

	code, _ := Generate("ABCD", "secret")
	if Validate(code, "ABCE", "secret") || Validate(code, "ABCD", "secreT") {
		t.Fatalf("validate accepted a code for different inputs")
	}
}

func TestServiceCodeAndVerify(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	cat := catalog.New(store, nil)
	ledger := ownership.New(store, nil)

	if _, err := cat.Create(ctx, product.Product{ID: "notes", Name: "Notes", Price: 9.99, Secret: "secret", Available: true}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	svc := New(ledger, cat, nil)

	if _, err := svc.Code(ctx, "u1", "notes"); !errors.Is(err, ownership.ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}

	tx := purchase.Transaction{UserID: "u1", ProductID: "notes", PIN: "ABCD", CreatedAt: time.Now()}
	if err := store.RunInOwnerScope(ctx, "u1", func(scope storage.OwnerScope) error {
		_, err := ledger.CreateFromTransaction(ctx, scope, tx)
		return err
	}); err != nil {
		t.Fatalf("grant ownership: %v", err)
	}

	code, err := svc.Code(ctx, "u1", "notes")
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	want, _ := Generate("ABCD", "secret")
	if code != want {
		t.Fatalf("code = %q, want %q", code, want)
	}

	ok, err := svc.Verify(ctx, "u1", "notes", code)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v", ok, err)
	}
	ok, _ = svc.Verify(ctx, "u1", "notes", "bogus")
	if ok {
		t.Fatalf("verify accepted a bogus code")
	}
}

func ExampleGenerate() {
	code, _ := Generate("ABCD", "secret")
	fmt.Println(len(code), Validate(code, "ABCD", "secret"))
	// Output:
	// 24 true
}
