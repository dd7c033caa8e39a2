package service

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-checkout/internal/adapter/storage"
	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/logger"
	"github.com/rl1809/pos-checkout/internal/port"
)

func TestCatalog_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]domain.ProductInput{
		"no code":        {Name: "Kopi", Price: decimal.NewFromInt(1)},
		"no name":        {Code: "K1", Name: "   ", Price: decimal.NewFromInt(1)},
		"negative price": {Code: "K1", Name: "Kopi", Price: decimal.NewFromInt(-1)},
		"long code":      {Code: strings.Repeat("K", domain.MaxCodeLength+1), Name: "Kopi", Price: decimal.NewFromInt(1)},
		"long name":      {Code: "K1", Name: strings.Repeat("k", domain.MaxNameLength+1), Price: decimal.NewFromInt(1)},
		"long image":     {Code: "K1", Name: "Kopi", Image: strings.Repeat("i", domain.MaxImageLength+1), Price: decimal.NewFromInt(1)},
		"price too big":  {Code: "K1", Name: "Kopi", Price: domain.MaxPrice.Add(decimal.NewFromInt(1))},
		"sub-cent price": {Code: "K1", Name: "Kopi", Price: decimal.RequireFromString("1.005")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.catalog.Create(ctx, in)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}

	free, err := env.catalog.Create(ctx, domain.ProductInput{Code: "W", Name: "Air Putih", Price: decimal.Zero})
	require.NoError(t, err)
	assert.True(t, free.Price.IsZero())
}

func TestCatalog_FeaturedAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.product(t, "Kopi", "10000")
	env.product(t, "Teh", "5000")

	featured, err := env.catalog.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, featured)

	updated, err := env.catalog.Update(ctx, p.ID, domain.ProductInput{Code: p.Code, Name: "Kopi", Price: p.Price, Featured: true})
	require.NoError(t, err)
	assert.True(t, updated.Featured)
	assert.Equal(t, p.CreatedAt.Unix(), updated.CreatedAt.Unix())

	featured, err = env.catalog.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, featured, 1)
	assert.Equal(t, p.ID, featured[0].ID)

	_, err = env.catalog.Update(ctx, "missing", domain.ProductInput{Code: "X", Name: "X"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, env.catalog.Delete(ctx, "missing"), domain.ErrNotFound)
}

func TestCatalog_CacheReadThroughAndInvalidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := storage.NewRedisAdapter(client, time.Minute, time.Hour)
	catalog := NewCatalogService(env.store, cache, logger.Discard())

	p := env.product(t, "Kopi", "10000")

	got, err := catalog.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kopi", got.Name)
	assert.True(t, mr.Exists("product:"+p.ID))

	// served from the cache even though the row changed underneath
	_, err = env.store.DB().Exec(`UPDATE products SET name = 'Stale' WHERE id = ?`, p.ID)
	require.NoError(t, err)
	got, err = catalog.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kopi", got.Name)

	_, err = catalog.Update(ctx, p.ID, domain.ProductInput{Code: p.Code, Name: "Kopi Susu", Price: p.Price})
	require.NoError(t, err)
	assert.False(t, mr.Exists("product:"+p.ID))

	got, err = catalog.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kopi Susu", got.Name)

	require.NoError(t, catalog.Delete(ctx, p.ID))
	_, err = catalog.Get(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_UpdateDuringCacheFillLeavesNoStaleEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	p := env.product(t, "Kopi", "10000")
	repo := &racingRepo{ProductRepository: env.store}
	catalog := NewCatalogService(repo, storage.NewRedisAdapter(client, time.Minute, time.Hour), logger.Discard())

	// the update commits and invalidates after Get read the old row but
	// before Get wrote it to the cache
	repo.during = func() {
		_, err := catalog.Update(ctx, p.ID, domain.ProductInput{Code: p.Code, Name: "Kopi Susu", Price: p.Price})
		require.NoError(t, err)
	}

	got, err := catalog.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kopi", got.Name)
	assert.False(t, mr.Exists("product:"+p.ID))

	got, err = catalog.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kopi Susu", got.Name)
}

// racingRepo runs during once, right after the first product read.
type racingRepo struct {
	port.ProductRepository
	fired  atomic.Bool
	during func()
}

func (r *racingRepo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := r.ProductRepository.GetProduct(ctx, id)
	if r.during != nil && r.fired.CompareAndSwap(false, true) {
		r.during()
	}
	return p, err
}

func TestCatalog_CacheDownFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	catalog := NewCatalogService(env.store, storage.NewRedisAdapter(client, time.Minute, time.Hour), logger.Discard())
	mr.Close()

	p := env.product(t, "Kopi", "10000")
	got, err := catalog.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}
