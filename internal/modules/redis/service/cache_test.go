package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemLocks(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newMemLocks()
	m.now = func() time.Time { return now }

	assert.True(t, m.tryLock("lock:close:BTC-USDT-SWAP", 15*time.Second))
	assert.False(t, m.tryLock("lock:close:BTC-USDT-SWAP", 15*time.Second))
	assert.True(t, m.tryLock("lock:close:ETH-USDT-SWAP", 15*time.Second))

	now = now.Add(16 * time.Second)
	assert.True(t, m.tryLock("lock:close:BTC-USDT-SWAP", 15*time.Second), "expired lock is reusable")

	m.unlock("lock:close:BTC-USDT-SWAP")
	assert.True(t, m.tryLock("lock:close:BTC-USDT-SWAP", 15*time.Second))
}

func TestCacheWithoutRedisDegrades(t *testing.T) {
	ctx := context.Background()
	c := NewCache(ctx, Config{}, zap.NewNop())
	assert.False(t, c.Healthy())

	c.SetPrice(ctx, "BTC", 100)
	_, ok := c.Price(ctx, "BTC")
	assert.False(t, ok)

	require.NoError(t, c.PublishCVD(ctx, map[string]float64{"BTC-USDT-SWAP": 1}))
	snap, err := c.CVDSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)

	ok, err = c.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.TryLock(ctx, "k", time.Second)
	assert.False(t, ok)
	c.Unlock(ctx, "k")
	ok, _ = c.TryLock(ctx, "k", time.Second)
	assert.True(t, ok)
}

func TestUnreachableRedisFallsBackToMemoryLocks(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	c := NewWithClient(rdb, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < maxFailures; i++ {
		c.SetPrice(ctx, "BTC", 100)
	}
	assert.False(t, c.Healthy())

	ok, err := c.TryLock(ctx, "lock:close:BTC-USDT-SWAP", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.TryLock(ctx, "lock:close:BTC-USDT-SWAP", time.Second)
	assert.False(t, ok)
}
