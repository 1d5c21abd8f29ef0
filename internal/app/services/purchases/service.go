package purchases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/metrics"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// ErrInvalidPIN is returned when a purchase is requested without a PIN.
var ErrInvalidPIN = errors.New("purchases: installation pin is required")

// ErrTransactionNotFound is returned for unknown transaction keys.
var ErrTransactionNotFound = errors.New("purchases: transaction not found")

// Catalog resolves products that are on sale.
type Catalog interface {
	GetAvailable(ctx context.Context, id string) (product.Product, error)
}

// Service records purchase intents as pending transactions.
type Service struct {
	store    storage.PurchaseStore
	catalog  Catalog
	checkout CheckoutConfig
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a purchase service.
func New(store storage.PurchaseStore, catalog Catalog, checkout CheckoutConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("purchases")
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		checkout: checkout,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the creation timestamp source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Prepare records a PENDING transaction for userID buying productID. The
// product's current price and the normalized PIN are captured and never
// change afterwards.
func (s *Service) Prepare(ctx context.Context, productID, userID, pin string) (purchase.Transaction, product.Product, error) {
	pin = purchase.NormalizePIN(pin)
	if pin == "" {
		return purchase.Transaction{}, product.Product{}, ErrInvalidPIN
	}
	if userID == "" {
		return purchase.Transaction{}, product.Product{}, fmt.Errorf("user is required")
	}
	prod, err := s.catalog.GetAvailable(ctx, productID)
	if err != nil {
		return purchase.Transaction{}, product.Product{}, err
	}

	tx, err := s.store.CreatePendingTransaction(ctx, purchase.Transaction{
		UserID:    userID,
		ProductID: prod.ID,
		CreatedAt: s.now(),
		Amount:    prod.Price,
		PIN:       pin,
		Status:    purchase.StatusPending,
	})
	if err != nil {
		return purchase.Transaction{}, product.Product{}, err
	}
	metrics.RecordPurchasePrepared()
	s.log.Infof("pending transaction %s prepared for user %s product %s amount %s", tx.ID, userID, prod.ID, purchase.FormatAmount(tx.Amount))
	return tx, prod, nil
}

// Get returns the transaction stored under id.
func (s *Service) Get(ctx context.Context, id string) (purchase.Transaction, error) {
	tx, err := s.store.GetPendingTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return purchase.Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
		}
		return purchase.Transaction{}, err
	}
	return tx, nil
}

// ListStale returns transactions still PENDING after olderThan.
func (s *Service) ListStale(ctx context.Context, olderThan time.Duration) ([]purchase.Transaction, error) {
	return s.store.ListPendingTransactions(ctx, s.now().Add(-olderThan))
}

// Checkout returns the provider form fields for paying tx.
func (s *Service) Checkout(tx purchase.Transaction, prod product.Product) Checkout {
	return s.checkout.Build(tx, prod)
}
