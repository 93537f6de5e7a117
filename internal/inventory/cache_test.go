package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheFetchJSONPopulatesAndServes(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(context.Context) (any, error) {
		loads++
		return []Alert{{Kind: AlertLowStock, Product: Product{ID: 1, Code: "P-001"}}}, nil
	}

	var first []Alert
	require.NoError(t, cache.FetchJSON(ctx, "inventory:alerts", &first, loader))
	require.Len(t, first, 1)
	require.Equal(t, 1, loads)

	var second []Alert
	require.NoError(t, cache.FetchJSON(ctx, "inventory:alerts", &second, loader))
	require.Equal(t, first, second)
	require.Equal(t, 1, loads, "second read must come from cache")
}

func TestCacheBumpInvalidates(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(context.Context) (any, error) {
		loads++
		return Stats{TotalProducts: int64(loads)}, nil
	}

	var stats Stats
	require.NoError(t, cache.FetchJSON(ctx, "inventory:stats", &stats, loader))
	require.EqualValues(t, 1, stats.TotalProducts)

	require.NoError(t, cache.Bump(ctx))

	require.NoError(t, cache.FetchJSON(ctx, "inventory:stats", &stats, loader))
	require.EqualValues(t, 2, stats.TotalProducts)
	require.Equal(t, 2, loads, "bump must force a reload")
}

func TestCacheNilClientFallsBackToLoader(t *testing.T) {
	var cache *Cache
	var stats Stats
	err := cache.FetchJSON(context.Background(), "inventory:stats", &stats, func(context.Context) (any, error) {
		return Stats{TotalProducts: 7}, nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 7, stats.TotalProducts)
}
