package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/inventory"
)

func TestMemory_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	a := inventory.Key("widget", "wh-a")
	b := inventory.Key("widget", "wh-b")

	_, ok, err := c.Get(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, inventory.StockLevel{Key: a, OnHand: 10, Reserved: 4}))
	require.NoError(t, c.Set(ctx, inventory.StockLevel{Key: b, OnHand: 1}))

	got, ok, err := c.Get(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(6), got.Available())

	require.NoError(t, c.Invalidate(ctx, a))
	_, ok, _ = c.Get(ctx, a)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestMemory_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }
	k := inventory.Key("widget", "wh-a")

	require.NoError(t, c.Set(ctx, inventory.StockLevel{Key: k, OnHand: 3}))

	now = now.Add(30 * time.Second)
	_, ok, _ := c.Get(ctx, k)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, k)
	assert.False(t, ok, "expired entries read as misses")
}
