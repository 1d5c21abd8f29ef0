package purchases

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/services/catalog"
	"github.com/sailfish-mobile/storefront/internal/app/storage/memory"
	"github.com/sailfish-mobile/storefront/pkg/testutil"
)

func newService(t *testing.T) (*Service, *testutil.Clock) {
	t.Helper()
	store := memory.New()
	cat := catalog.New(store, nil)
	ctx := context.Background()
	_, err := cat.Create(ctx, product.Product{ID: "notes", Name: "Notes", Price: 9.99, Secret: "s", Available: true})
	require.NoError(t, err)
	_, err = cat.Create(ctx, product.Product{ID: "retired", Name: "Retired", Price: 1, Secret: "s"})
	require.NoError(t, err)

	clock := testutil.NewClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	cfg := CheckoutConfig{
		Endpoint:  "https://www.sandbox.paypal.com/cgi-bin/webscr",
		Business:  "merchant@example.com",
		NotifyURL: "https://store.example.com/ipn",
		ReturnURL: "https://store.example.com/thanks",
	}
	return New(store, cat, cfg, nil).WithClock(clock.Now), clock
}

func TestPrepareCapturesPriceAndPIN(t *testing.T) {
	svc, clock := newService(t)

	tx, prod, err := svc.Prepare(context.Background(), "notes", "u1", " abcd ")
	require.NoError(t, err)
	assert.Equal(t, "notes", prod.ID)
	assert.Equal(t, purchase.StatusPending, tx.Status)
	assert.Equal(t, 9.99, tx.Amount)
	assert.Equal(t, "ABCD", tx.PIN)
	assert.Equal(t, "u1", tx.UserID)
	assert.True(t, tx.CreatedAt.Equal(clock.Now()))
	assert.Empty(t, tx.ProviderTxnID)

	stored, err := svc.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.Amount, stored.Amount)
}

func TestPrepareRejectsBadRequests(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.Prepare(ctx, "notes", "u1", "   ")
	assert.ErrorIs(t, err, ErrInvalidPIN)

	_, _, err = svc.Prepare(ctx, "missing", "u1", "ABCD")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, _, err = svc.Prepare(ctx, "retired", "u1", "ABCD")
	assert.ErrorIs(t, err, catalog.ErrProductUnavailable)

	_, _, err = svc.Prepare(ctx, "notes", "", "ABCD")
	assert.Error(t, err)
}

func TestGetUnknownTransaction(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrTransactionNotFound))
}

func TestListStale(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()

	old, _, err := svc.Prepare(ctx, "notes", "u1", "A")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, _, err = svc.Prepare(ctx, "notes", "u1", "B")
	require.NoError(t, err)

	stale, err := svc.ListStale(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestCheckoutFields(t *testing.T) {
	svc, _ := newService(t)
	tx, prod, err := svc.Prepare(context.Background(), "notes", "u1", "ABCD")
	require.NoError(t, err)

	co := svc.Checkout(tx, prod)
	assert.Equal(t, "https://www.sandbox.paypal.com/cgi-bin/webscr", co.Endpoint)
	assert.Equal(t, "_xclick", co.Fields["cmd"])
	assert.Equal(t, "9.99", co.Fields["amount"])
	assert.Equal(t, "USD", co.Fields["currency_code"])
	assert.Equal(t, tx.ID, co.Fields["custom"])
	assert.Equal(t, "https://store.example.com/ipn", co.Fields["notify_url"])

	values, err := url.ParseQuery(co.Encode())
	require.NoError(t, err)
	assert.Equal(t, "Notes", values.Get("item_name"))
	assert.Equal(t, "merchant@example.com", values.Get("business"))
}
