package ipn

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mobile/storefront/internal/app/audit"
	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/domain/user"
	"github.com/sailfish-mobile/storefront/internal/app/services/catalog"
	"github.com/sailfish-mobile/storefront/internal/app/services/notify"
	"github.com/sailfish-mobile/storefront/internal/app/services/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/internal/app/storage/memory"
	"github.com/sailfish-mobile/storefront/internal/app/storage/sqlstore"
	"github.com/sailfish-mobile/storefront/internal/platform/migrations"
	"github.com/sailfish-mobile/storefront/pkg/logger"
	"github.com/sailfish-mobile/storefront/pkg/testutil"
)

type backend interface {
	storage.CatalogStore
	storage.PurchaseStore
	storage.OwnershipStore
	storage.UserStore
	storage.Transactor
}

type fixture struct {
	store      backend
	reconciler *Reconciler
	provider   *testutil.ProviderStub
	journal    *audit.Journal
	notifier   *testutil.RecordingNotifier
	pending    purchase.Transaction
}

func newFixture(t *testing.T, store backend, providerBody string) *fixture {
	t.Helper()
	ctx := context.Background()

	_, err := store.CreateProduct(ctx, product.Product{
		ID: "notes", Name: "Notes", Price: 9.99, Secret: "s3cret", Available: true,
		DownloadURL: "https://store.example/notes.rpm",
	})
	require.NoError(t, err)
	_, err = store.SaveUser(ctx, user.Profile{ID: "user-1", Emails: []string{"one@example.org"}})
	require.NoError(t, err)
	pending, err := store.CreatePendingTransaction(ctx, purchase.Transaction{
		UserID:    "user-1",
		ProductID: "notes",
		Amount:    9.99,
		PIN:       "ABCD",
		Status:    purchase.StatusPending,
	})
	require.NoError(t, err)

	provider := testutil.NewProviderStub(t, http.StatusOK, providerBody)
	log := logger.NewNop()
	rec := NewReconciler(
		NewPayPalVerifier(provider.URL, time.Second, log),
		store, store,
		ownership.New(store, log),
		log,
	)
	journal := audit.NewJournal(50, nil)
	notifier := &testutil.RecordingNotifier{}
	rec.AttachJournal(journal)
	rec.AttachNotifier(notifier, store, catalog.New(store, log))

	return &fixture{
		store:      store,
		reconciler: rec,
		provider:   provider,
		journal:    journal,
		notifier:   notifier,
		pending:    pending,
	}
}

func newMemoryFixture(t *testing.T, providerBody string) *fixture {
	return newFixture(t, memory.New(), providerBody)
}

func newSQLiteFixture(t *testing.T, providerBody string) *fixture {
	t.Helper()
	db, err := sqlstore.Open(sqlstore.DialectSQLite, "file:"+filepath.Join(t.TempDir(), "ipn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Apply(context.Background(), db, migrations.DialectSQLite))
	return newFixture(t, sqlstore.New(db, sqlstore.DialectSQLite), providerBody)
}

func payload(txID string, overrides map[string]string) []byte {
	v := url.Values{}
	v.Set("payment_status", "Completed")
	v.Set("mc_gross", "9.99")
	v.Set("mc_currency", "USD")
	v.Set("txn_id", "T1")
	v.Set("custom", txID)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return []byte(v.Encode())
}

func (f *fixture) assertUntouched(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.GetPendingTransaction(ctx, f.pending.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusPending, tx.Status)
	assert.Empty(t, tx.ProviderTxnID)

	owned, err := f.store.ListUserProducts(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, owned)
	keys, err := f.store.ListInstallationKeys(ctx, "user-1", "notes")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestProcessGrantsOwnership(t *testing.T) {
	for name, build := range map[string]func(*testing.T, string) *fixture{
		"memory": newMemoryFixture,
		"sqlite": newSQLiteFixture,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := build(t, "VERIFIED")

			res, err := f.reconciler.Process(ctx, payload(f.pending.ID, nil))
			require.NoError(t, err)
			require.Equal(t, OutcomeGranted, res.Outcome, res.Reason)
			require.NotNil(t, res.UserProduct)
			assert.Equal(t, "ABCD", res.UserProduct.PIN)

			tx, err := f.store.GetPendingTransaction(ctx, f.pending.ID)
			require.NoError(t, err)
			assert.Equal(t, purchase.StatusComplete, tx.Status)
			assert.Equal(t, "T1", tx.ProviderTxnID)

			owned, err := f.store.ListUserProducts(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, owned, 1)
			assert.Equal(t, "ABCD", owned[0].PIN)
			assert.Equal(t, "notes", owned[0].ProductID)

			keys, err := f.store.ListInstallationKeys(ctx, "user-1", "notes")
			require.NoError(t, err)
			require.Len(t, keys, 1)
			assert.Equal(t, "ABCD", keys[0].PIN)

			assert.Equal(t, []string{"cmd=_notify-validate&" + string(payload(f.pending.ID, nil))}, f.provider.Requests())
		})
	}
}

func TestProcessSendsConfirmation(t *testing.T) {
	f := newMemoryFixture(t, "VERIFIED")

	res, err := f.reconciler.Process(context.Background(), payload(f.pending.ID, nil))
	require.NoError(t, err)
	require.True(t, res.Granted())

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.TemplatePurchaseConfirmation, sent[0].Template)
	assert.Equal(t, "one@example.org", sent[0].Address)
	assert.Equal(t, "Notes", sent[0].Data["ProductName"])
	assert.Equal(t, "9.99", sent[0].Data["Amount"])
	assert.Equal(t, "ABCD", sent[0].Data["PIN"])
	assert.Equal(t, "https://store.example/notes.rpm", sent[0].Data["DownloadURL"])
}

func TestProcessNotificationFailureKeepsGrant(t *testing.T) {
	f := newMemoryFixture(t, "VERIFIED")
	f.notifier.Err = errors.New("relay down")

	res, err := f.reconciler.Process(context.Background(), payload(f.pending.ID, nil))
	require.NoError(t, err)
	assert.True(t, res.Granted())
	assert.Len(t, f.notifier.Sent(), 1)
}

func TestProcessSkipsConfirmationWithoutAddress(t *testing.T) {
	f := newMemoryFixture(t, "VERIFIED")
	_, err := f.store.SaveUser(context.Background(), user.Profile{ID: "user-1"})
	require.NoError(t, err)

	res, err := f.reconciler.Process(context.Background(), payload(f.pending.ID, nil))
	require.NoError(t, err)
	assert.True(t, res.Granted())
	assert.Empty(t, f.notifier.Sent())
}

func TestProcessProviderRejection(t *testing.T) {
	f := newMemoryFixture(t, "INVALID")

	res, err := f.reconciler.Process(context.Background(), payload(f.pending.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProviderRejected, res.Outcome)
	f.assertUntouched(t)
	assert.Empty(t, f.notifier.Sent())

	entries := f.journal.List(0)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StageVerify, entries[0].Stage)
	assert.Equal(t, "INVALID", entries[0].Response)
}

func TestProcessProviderUnreachable(t *testing.T) {
	f := newMemoryFixture(t, "VERIFIED")
	f.provider.Close()

	res, err := f.reconciler.Process(context.Background(), payload(f.pending.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProviderRejected, res.Outcome)
	f.assertUntouched(t)
}

func TestProcessContentMismatches(t *testing.T) {
	cases := map[string]map[string]string{
		"currency":       {"mc_currency": "EUR"},
		"gross":          {"mc_gross": "9.98"},
		"gross format":   {"mc_gross": "9.990"},
		"payment status": {"payment_status": "Pending"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			f := newMemoryFixture(t, "VERIFIED")
			res, err := f.reconciler.Process(context.Background(), payload(f.pending.ID, overrides))
			require.NoError(t, err)
			assert.Equal(t, OutcomeMismatch, res.Outcome)
			assert.NotEmpty(t, res.Reason)
			f.assertUntouched(t)
		})
	}
}

// warnings decodes the JSON log lines written at warn level.
func warnings(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		if line["level"] == "warning" {
			out = append(out, line)
		}
	}
	return out
}

func TestProcessMismatchLogsReceivedFields(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]string
		want      map[string]string
	}{
		{
			name:      "currency",
			overrides: map[string]string{"mc_currency": "EUR"},
			want: map[string]string{
				"payment_status": "Completed", "mc_gross": "9.99", "mc_currency": "EUR",
				"txn_id": "T1", "expected_amount": "9.99", "status": "PENDING",
			},
		},
		{
			name:      "gross and payment status",
			overrides: map[string]string{"mc_gross": "10.00", "payment_status": "Pending"},
			want: map[string]string{
				"payment_status": "Pending", "mc_gross": "10.00", "mc_currency": "USD",
				"txn_id": "T1", "expected_amount": "9.99", "status": "PENDING",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newMemoryFixture(t, "VERIFIED")
			var buf bytes.Buffer
			f.reconciler.log.SetOutput(&buf)
			f.reconciler.log.SetFormatter(&logrus.JSONFormatter{})

			res, err := f.reconciler.Process(context.Background(), payload(f.pending.ID, tc.overrides))
			require.NoError(t, err)
			require.Equal(t, OutcomeMismatch, res.Outcome)

			lines := warnings(t, &buf)
			require.Len(t, lines, 1)
			for k, v := range tc.want {
				assert.Equal(t, v, lines[0][k], "log field %s", k)
			}

			entries := f.journal.List(0)
			require.NotEmpty(t, entries)
			detail := entries[len(entries)-1].Detail
			assert.Contains(t, detail, `payment_status="`+tc.want["payment_status"]+`"`)
			assert.Contains(t, detail, `mc_gross="`+tc.want["mc_gross"]+`"`)
			assert.Contains(t, detail, `mc_currency="`+tc.want["mc_currency"]+`"`)
			assert.Contains(t, detail, "expected_amount=9.99")
		})
	}
}

func TestProcessIsIdempotentOnceComplete(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, "VERIFIED")

	first, err := f.reconciler.Process(ctx, payload(f.pending.ID, nil))
	require.NoError(t, err)
	require.True(t, first.Granted())

	second, err := f.reconciler.Process(ctx, payload(f.pending.ID, map[string]string{"txn_id": "T2"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyComplete, second.Outcome)

	tx, err := f.store.GetPendingTransaction(ctx, f.pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "T1", tx.ProviderTxnID)
	owned, err := f.store.ListUserProducts(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, owned, 1)
	assert.Len(t, f.notifier.Sent(), 1)
}

func TestProcessConcurrentDuplicates(t *testing.T) {
	for name, build := range map[string]func(*testing.T, string) *fixture{
		"memory": newMemoryFixture,
		"sqlite": newSQLiteFixture,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := build(t, "VERIFIED")
			raw := payload(f.pending.ID, nil)

			const deliveries = 6
			outcomes := make([]Outcome, deliveries)
			var wg sync.WaitGroup
			for i := 0; i < deliveries; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := f.reconciler.Process(ctx, raw)
					if err != nil {
						t.Errorf("Process: %v", err)
						return
					}
					outcomes[i] = res.Outcome
				}(i)
			}
			wg.Wait()

			granted := 0
			for _, o := range outcomes {
				switch o {
				case OutcomeGranted:
					granted++
				case OutcomeAlreadyComplete:
				default:
					t.Errorf("unexpected outcome %q", o)
				}
			}
			assert.Equal(t, 1, granted)

			owned, err := f.store.ListUserProducts(ctx, "user-1")
			require.NoError(t, err)
			assert.Len(t, owned, 1)
			keys, err := f.store.ListInstallationKeys(ctx, "user-1", "notes")
			require.NoError(t, err)
			assert.Len(t, keys, 1)
		})
	}
}

func TestProcessMalformedAndUnknown(t *testing.T) {
	f := newMemoryFixture(t, "VERIFIED")

	res, err := f.reconciler.Process(context.Background(), []byte("txn_id=T1&mc_gross=9.99"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, res.Outcome)
	assert.Empty(t, f.provider.Requests())

	res, err = f.reconciler.Process(context.Background(), payload("no-such-tx", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	f.assertUntouched(t)
}

func TestGrantFree(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, "VERIFIED")
	free, err := f.store.CreatePendingTransaction(ctx, purchase.Transaction{
		UserID: "user-1", ProductID: "clock", Amount: 0, PIN: "FREE1", Status: purchase.StatusPending,
	})
	require.NoError(t, err)

	res, err := f.reconciler.GrantFree(ctx, free)
	require.NoError(t, err)
	require.True(t, res.Granted())
	assert.Equal(t, FreeTxnID, res.Transaction.ProviderTxnID)
	assert.Empty(t, f.provider.Requests())

	again, err := f.reconciler.GrantFree(ctx, free)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyComplete, again.Outcome)

	_, err = f.reconciler.GrantFree(ctx, f.pending)
	assert.Error(t, err)
}

func TestCheckNotificationOrder(t *testing.T) {
	tx := purchase.Transaction{Amount: 10, Status: purchase.StatusPending}
	n := Notification{PaymentStatus: PaymentCompleted, Gross: "10.0", Currency: "USD"}

	outcome, _ := checkNotification(tx, n)
	assert.Equal(t, Outcome(""), outcome)

	n.Gross = "10.00"
	outcome, reason := checkNotification(tx, n)
	assert.Equal(t, OutcomeMismatch, outcome)
	assert.Contains(t, reason, `expected "10.0"`)

	tx.Status = purchase.StatusComplete
	outcome, _ = checkNotification(tx, n)
	assert.Equal(t, OutcomeAlreadyComplete, outcome)
}
