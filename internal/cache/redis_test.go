package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/omer3110/livecart-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(client)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return cache, mr, cleanup
}

func testSnapshot(cartID string) *domain.CartSnapshot {
	return &domain.CartSnapshot{
		CartID:  cartID,
		OwnerID: "owner",
		Name:    "groceries",
		Items: []domain.LineItem{
			{ProductID: "p1", Name: "milk", Quantity: 2},
			{ProductID: "p2", Name: "eggs", Quantity: 1, Prices: []domain.PriceRef{{BrandName: "acme", Price: 3.2}}},
		},
		Version: 4,
	}
}

func TestGet_Success(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	snap := testSnapshot("c1")

	snapJSON, _ := json.Marshal(snap)
	mr.Set(cacheKey("c1"), string(snapJSON))

	result, err := cache.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", result.CartID)
	assert.Equal(t, int64(4), result.Version)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, "acme", result.Items[1].Prices[0].BrandName)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	result, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	snapJSON, err := json.Marshal(testSnapshot("c1"))
	require.NoError(t, err)
	e2 := mr.Set(cacheKey("c1"), string(snapJSON[0:10]))
	require.NoError(t, e2)

	_, cacheError := cache.Get(context.Background(), "c1")
	require.ErrorContains(t, cacheError, "unmarshal snapshot failed")
}

func TestSet_Success(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	err := cache.Set(context.Background(), "c2", testSnapshot("c2"))
	require.NoError(t, err)

	stored, e2 := mr.Get(cacheKey("c2"))
	require.NoError(t, e2)
	assert.NotEmpty(t, stored)

	var storedSnap domain.CartSnapshot
	err = json.Unmarshal([]byte(stored), &storedSnap)
	require.NoError(t, err)
	assert.Equal(t, "c2", storedSnap.CartID)
	assert.Len(t, storedSnap.Items, 2)
}

func TestSet_WithTTL(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	err := cache.Set(context.Background(), "c3", testSnapshot("c3"))
	require.NoError(t, err)

	ttl := mr.TTL(cacheKey("c3"))
	assert.True(t, ttl >= 15*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl <= 20*time.Minute, "TTL should be base + max jitter")
}

func TestDelete_Success(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	snapJSON, _ := json.Marshal(testSnapshot("c4"))
	mr.Set(cacheKey("c4"), string(snapJSON))
	assert.True(t, mr.Exists(cacheKey("c4")))

	err := cache.Delete(context.Background(), "c4")
	require.NoError(t, err)
	assert.False(t, mr.Exists(cacheKey("c4")))
}

func TestDelete_NonExistentKey(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	err := cache.Delete(context.Background(), "nonexistent")
	assert.NoError(t, err)
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "livecart:c9", cacheKey("c9"))
}
