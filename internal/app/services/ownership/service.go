package ownership

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// ErrNotOwned is returned when a user does not own the requested product.
var ErrNotOwned = errors.New("ownership: product not owned")

// Service is the ownership ledger.
type Service struct {
	store storage.OwnershipStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs an ownership ledger service.
func New(store storage.OwnershipStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ownership")
	}
	return &Service{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source used for new installation keys.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateFromTransaction records ownership for a completed purchase inside the
// caller's owner scope: one UserProduct and its first InstallationKey, both
// carrying the transaction's PIN.
func (s *Service) CreateFromTransaction(ctx context.Context, scope storage.OwnerScope, tx purchase.Transaction) (domain.UserProduct, error) {
	up, err := scope.CreateUserProduct(ctx, domain.UserProduct{
		UserID:       tx.UserID,
		ProductID:    tx.ProductID,
		PIN:          tx.PIN,
		PurchaseDate: tx.CreatedAt,
	})
	if err != nil {
		return domain.UserProduct{}, fmt.Errorf("create user product: %w", err)
	}
	if _, err := scope.CreateInstallationKey(ctx, domain.InstallationKey{
		UserID:    tx.UserID,
		ProductID: tx.ProductID,
		PIN:       tx.PIN,
		CreatedAt: s.now(),
	}); err != nil {
		return domain.UserProduct{}, fmt.Errorf("create installation key: %w", err)
	}
	return up, nil
}

// Lookup returns the user's ownership record for productID.
func (s *Service) Lookup(ctx context.Context, userID, productID string) (domain.UserProduct, error) {
	up, err := s.store.GetUserProduct(ctx, userID, productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.UserProduct{}, fmt.Errorf("%w: user %s product %s", ErrNotOwned, userID, productID)
		}
		return domain.UserProduct{}, err
	}
	return up, nil
}

// Owns reports whether userID already owns productID.
func (s *Service) Owns(ctx context.Context, userID, productID string) (bool, error) {
	_, err := s.Lookup(ctx, userID, productID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotOwned):
		return false, nil
	default:
		return false, err
	}
}

// ListForUser returns every product the user owns.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]domain.UserProduct, error) {
	return s.store.ListUserProducts(ctx, userID)
}

// RegisterInstallation adds another device installation of an owned product.
func (s *Service) RegisterInstallation(ctx context.Context, userID, productID, pin string) (domain.InstallationKey, error) {
	pin = purchase.NormalizePIN(pin)
	if pin == "" {
		return domain.InstallationKey{}, fmt.Errorf("pin is required")
	}
	if _, err := s.Lookup(ctx, userID, productID); err != nil {
		return domain.InstallationKey{}, err
	}
	key, err := s.store.CreateInstallationKey(ctx, domain.InstallationKey{
		UserID:    userID,
		ProductID: productID,
		PIN:       pin,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.InstallationKey{}, err
	}
	s.log.Infof("installation %s registered for user %s product %s", key.ID, userID, productID)
	return key, nil
}

// Installations lists the installation keys of an owned product.
func (s *Service) Installations(ctx context.Context, userID, productID string) ([]domain.InstallationKey, error) {
	if _, err := s.Lookup(ctx, userID, productID); err != nil {
		return nil, err
	}
	return s.store.ListInstallationKeys(ctx, userID, productID)
}
