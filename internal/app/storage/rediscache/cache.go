// Package rediscache puts a Redis read-through cache in front of a catalog
// store. Products never change once created, so cached entries only expire to
// bound memory.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

const defaultTTL = 10 * time.Minute

// Store decorates a CatalogStore with a Redis cache keyed by product id.
type Store struct {
	client redis.Cmdable
	next   storage.CatalogStore
	ttl    time.Duration
	prefix string
	log    *logger.Logger
}

var _ storage.CatalogStore = (*Store)(nil)

// New wraps next. A non-positive ttl uses the default.
func New(client redis.Cmdable, next storage.CatalogStore, ttl time.Duration, log *logger.Logger) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = logger.NewDefault("catalog-cache")
	}
	return &Store{client: client, next: next, ttl: ttl, prefix: "storefront:product:", log: log}
}

// cachedProduct carries the activation secret, which product.Product hides
// from JSON.
type cachedProduct struct {
	product.Product
	Secret string `json:"secret"`
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) CreateProduct(ctx context.Context, p product.Product) (product.Product, error) {
	created, err := s.next.CreateProduct(ctx, p)
	if err != nil {
		return product.Product{}, err
	}
	if err := s.client.Del(ctx, s.key(created.ID)).Err(); err != nil {
		s.log.WithError(err).Warnf("evict cached product %s", created.ID)
	}
	return created, nil
}

// GetProduct serves from Redis when possible. Redis failures degrade to the
// underlying store.
func (s *Store) GetProduct(ctx context.Context, id string) (product.Product, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	switch {
	case err == nil:
		var entry cachedProduct
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			p := entry.Product
			p.Secret = entry.Secret
			return p, nil
		}
		s.log.Warnf("discarding undecodable cache entry for product %s", id)
	case !errors.Is(err, redis.Nil):
		s.log.WithError(err).Warnf("read cached product %s", id)
	}

	p, err := s.next.GetProduct(ctx, id)
	if err != nil {
		return product.Product{}, err
	}
	if err := s.store(ctx, p); err != nil {
		s.log.WithError(err).Warnf("cache product %s", id)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]product.Product, error) {
	return s.next.ListProducts(ctx)
}

func (s *Store) store(ctx context.Context, p product.Product) error {
	payload, err := json.Marshal(cachedProduct{Product: p, Secret: p.Secret})
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	return s.client.Set(ctx, s.key(p.ID), payload, s.ttl).Err()
}
