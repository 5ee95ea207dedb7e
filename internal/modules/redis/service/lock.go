package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TryLock: SET NX с TTL. При недоступном Redis блокировка берётся в памяти:
// внутри одного процесса двойного закрытия всё равно не будет.
func (c *Cache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if c.usable() && c.Healthy() {
		ok, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
		c.record(err)
		if err == nil {
			return ok, nil
		}
		c.log.Warn("[REDIS] lock fallback to memory", zap.String("key", key), zap.Error(err))
	}
	return c.locks.tryLock(key, ttl), nil
}

func (c *Cache) Unlock(ctx context.Context, key string) {
	c.locks.unlock(key)
	if c.usable() && c.Healthy() {
		c.record(c.rdb.Del(ctx, key).Err())
	}
}

type memLocks struct {
	mu  sync.Mutex
	exp map[string]time.Time
	now func() time.Time
}

func newMemLocks() *memLocks {
	return &memLocks{exp: make(map[string]time.Time), now: time.Now}
}

func (m *memLocks) tryLock(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if until, ok := m.exp[key]; ok && now.Before(until) {
		return false
	}
	m.exp[key] = now.Add(ttl)
	return true
}

func (m *memLocks) unlock(key string) {
	m.mu.Lock()
	delete(m.exp, key)
	m.mu.Unlock()
}
