package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTTLCache_ExpiresAfterIdle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewTTLCache(time.Minute, clock.Now)

	c.Put(models.TypeOrders, []models.Record{{"id": "1"}})

	clock.Advance(50 * time.Second)
	_, ok := c.Get(models.TypeOrders)
	require.True(t, ok)

	// The previous Get refreshed the expiry.
	clock.Advance(50 * time.Second)
	_, ok = c.Get(models.TypeOrders)
	require.True(t, ok)

	clock.Advance(61 * time.Second)
	_, ok = c.Get(models.TypeOrders)
	assert.False(t, ok)
}

func TestTTLCache_Invalidate(t *testing.T) {
	c := NewTTLCache(time.Hour, nil)
	c.Put(models.TypeProducts, []models.Record{{"id": "1"}})
	c.Invalidate(models.TypeProducts)

	_, ok := c.Get(models.TypeProducts)
	assert.False(t, ok)
}

func TestEngine_ReadThroughCache(t *testing.T) {
	ctx := context.Background()
	cache := NewTTLCache(time.Hour, nil)
	e := newTestEngine(t, Options{Cache: cache})

	require.NoError(t, e.Append(ctx, models.TypeOrders, []models.Record{rec(1, "a")}))
	first, err := e.Read(ctx, models.TypeOrders)
	require.NoError(t, err)

	cached, ok := cache.Get(models.TypeOrders)
	require.True(t, ok)
	assert.Equal(t, first, cached)

	require.NoError(t, e.Append(ctx, models.TypeOrders, []models.Record{rec(2, "b")}))
	_, ok = cache.Get(models.TypeOrders)
	assert.False(t, ok, "append must invalidate")

	second, err := e.Read(ctx, models.TypeOrders)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}
