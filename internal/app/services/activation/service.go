package activation

import (
	"context"
	"fmt"

	"github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// Ledger resolves ownership records.
type Ledger interface {
	Lookup(ctx context.Context, userID, productID string) (ownership.UserProduct, error)
}

// Catalog resolves products.
type Catalog interface {
	Get(ctx context.Context, id string) (product.Product, error)
}

// Service computes activation codes for products a user owns.
type Service struct {
	ledger  Ledger
	catalog Catalog
	log     *logger.Logger
}

// New constructs an activation service.
func New(ledger Ledger, catalog Catalog, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("activation")
	}
	return &Service{ledger: ledger, catalog: catalog, log: log}
}

// Code returns the activation code for the user's copy of productID.
func (s *Service) Code(ctx context.Context, userID, productID string) (string, error) {
	up, prod, err := s.resolve(ctx, userID, productID)
	if err != nil {
		return "", err
	}
	code, err := Generate(up.PIN, prod.Secret)
	if err != nil {
		return "", fmt.Errorf("product %s: %w", productID, err)
	}
	return code, nil
}

// Verify reports whether code activates the user's copy of productID.
func (s *Service) Verify(ctx context.Context, userID, productID, code string) (bool, error) {
	up, prod, err := s.resolve(ctx, userID, productID)
	if err != nil {
		return false, err
	}
	ok := Validate(code, up.PIN, prod.Secret)
	if !ok {
		s.log.Debugf("activation code mismatch for user %s product %s", userID, productID)
	}
	return ok, nil
}

func (s *Service) resolve(ctx context.Context, userID, productID string) (ownership.UserProduct, product.Product, error) {
	up, err := s.ledger.Lookup(ctx, userID, productID)
	if err != nil {
		return ownership.UserProduct{}, product.Product{}, err
	}
	prod, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return ownership.UserProduct{}, product.Product{}, err
	}
	return up, prod, nil
}
