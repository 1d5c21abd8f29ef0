package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrStaleWrite is returned when a conditional update finds the record no
	// longer in the expected state.
	ErrStaleWrite = errors.New("storage: stale write")
)

// CatalogStore persists products.
type CatalogStore interface {
	CreateProduct(ctx context.Context, p product.Product) (product.Product, error)
	GetProduct(ctx context.Context, id string) (product.Product, error)
	ListProducts(ctx context.Context) ([]product.Product, error)
}

// PurchaseStore persists pending transactions. Status changes only happen
// through an OwnerScope.
type PurchaseStore interface {
	CreatePendingTransaction(ctx context.Context, tx purchase.Transaction) (purchase.Transaction, error)
	GetPendingTransaction(ctx context.Context, id string) (purchase.Transaction, error)
	ListPendingTransactions(ctx context.Context, createdBefore time.Time) ([]purchase.Transaction, error)
}

// OwnershipStore answers ownership queries. Records are created through an
// OwnerScope, except for additional installations of an owned product.
type OwnershipStore interface {
	GetUserProduct(ctx context.Context, userID, productID string) (ownership.UserProduct, error)
	ListUserProducts(ctx context.Context, userID string) ([]ownership.UserProduct, error)
	CreateInstallationKey(ctx context.Context, key ownership.InstallationKey) (ownership.InstallationKey, error)
	ListInstallationKeys(ctx context.Context, userID, productID string) ([]ownership.InstallationKey, error)
}

// UserStore persists user contact profiles.
type UserStore interface {
	SaveUser(ctx context.Context, p user.Profile) (user.Profile, error)
	GetUser(ctx context.Context, id string) (user.Profile, error)
}

// OwnerScope exposes the writes that must commit together for a single owner.
type OwnerScope interface {
	GetPendingTransaction(ctx context.Context, id string) (purchase.Transaction, error)
	// CompletePendingTransaction flips a PENDING transaction to COMPLETE and
	// records the provider transaction id. It returns ErrStaleWrite when the
	// transaction is no longer pending.
	CompletePendingTransaction(ctx context.Context, id, providerTxnID string) (purchase.Transaction, error)
	CreateUserProduct(ctx context.Context, up ownership.UserProduct) (ownership.UserProduct, error)
	CreateInstallationKey(ctx context.Context, key ownership.InstallationKey) (ownership.InstallationKey, error)
}

// Transactor runs fn atomically in the scope of one owning user. Scopes for the
// same owner are serialized; if fn returns an error nothing it wrote persists.
type Transactor interface {
	RunInOwnerScope(ctx context.Context, ownerID string, fn func(scope OwnerScope) error) error
}
