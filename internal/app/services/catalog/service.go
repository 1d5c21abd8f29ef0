package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

var (
	// ErrProductNotFound is returned for unknown product ids.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrProductUnavailable is returned when a product exists but is not on sale.
	ErrProductUnavailable = errors.New("catalog: product unavailable")
)

// Service exposes the product catalog.
type Service struct {
	store storage.CatalogStore
	log   *logger.Logger
}

// New constructs a catalog service.
func New(store storage.CatalogStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{store: store, log: log}
}

// Get returns the product with id.
func (s *Service) Get(ctx context.Context, id string) (product.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return product.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return product.Product{}, err
	}
	return p, nil
}

// GetAvailable returns the product with id if it is on sale.
func (s *Service) GetAvailable(ctx context.Context, id string) (product.Product, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return product.Product{}, err
	}
	if !p.Available {
		return product.Product{}, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
	}
	return p, nil
}

// ListAvailable returns the products currently on sale.
func (s *Service) ListAvailable(ctx context.Context) ([]product.Product, error) {
	all, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]product.Product, 0, len(all))
	for _, p := range all {
		if p.Available {
			result = append(result, p)
		}
	}
	return result, nil
}

// Create adds a product. Only bootstrap paths call this; the storefront itself
// never edits the catalog.
func (s *Service) Create(ctx context.Context, p product.Product) (product.Product, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return product.Product{}, fmt.Errorf("name is required")
	}
	if p.Price < 0 {
		return product.Product{}, fmt.Errorf("price must be non-negative")
	}
	if p.Secret == "" {
		return product.Product{}, fmt.Errorf("secret is required")
	}

	created, err := s.store.CreateProduct(ctx, p)
	if err != nil {
		return product.Product{}, err
	}
	s.log.Infof("product %s created", created.ID)
	return created, nil
}

// LoadFixtures creates every product listed in the YAML file at path.
// Products that already exist are left untouched. It returns the number of
// products created.
func (s *Service) LoadFixtures(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog fixtures: %w", err)
	}
	var doc struct {
		Products []product.Product `yaml:"products"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("parse catalog fixtures: %w", err)
	}

	created := 0
	for _, p := range doc.Products {
		if _, err := s.Create(ctx, p); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("fixture %q: %w", p.ID, err)
		}
		created++
	}
	s.log.Infof("loaded %d catalog fixtures from %s", created, path)
	return created, nil
}
