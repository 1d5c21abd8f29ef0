package rediscache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/internal/app/storage/memory"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// countingStore records how often the backing store is hit.
type countingStore struct {
	storage.CatalogStore
	gets int
}

func (c *countingStore) GetProduct(ctx context.Context, id string) (product.Product, error) {
	c.gets++
	return c.CatalogStore.GetProduct(ctx, id)
}

func TestFallsBackWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	backing := &countingStore{CatalogStore: memory.New()}
	cache := New(client, backing, time.Minute, logger.NewNop())
	ctx := context.Background()

	_, err := cache.CreateProduct(ctx, product.Product{ID: "prod-1", Name: "Notes", Secret: "s"})
	require.NoError(t, err)

	got, err := cache.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "s", got.Secret)
	assert.Equal(t, 1, backing.gets)

	_, err = cache.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCachesProductsInRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	backing := &countingStore{CatalogStore: memory.New()}
	cache := New(client, backing, time.Minute, logger.NewNop())
	cache.prefix = "storefront-test:" + uuid.NewString() + ":"
	ctx := context.Background()

	_, err := cache.CreateProduct(ctx, product.Product{ID: "prod-1", Name: "Notes", Price: 9.99, Secret: "s3cret"})
	require.NoError(t, err)

	first, err := cache.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	second, err := cache.GetProduct(ctx, "prod-1")
	require.NoError(t, err)

	assert.Equal(t, 1, backing.gets)
	assert.Equal(t, "s3cret", second.Secret)
	assert.Equal(t, first.Price, second.Price)

	ttl, err := client.TTL(ctx, cache.key("prod-1")).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
	client.Del(ctx, cache.key("prod-1"))
}
