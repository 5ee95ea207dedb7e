// Package service: Redis: кэш цен и CVD, блокировки закрытия.
// Недоступный Redis переводит сервис в деградированный режим: кэш молчит,
// блокировки берутся в памяти процесса.
package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
)

const (
	keyPrice = "price:"
	keyCVD   = "cvd:snapshot"

	priceTTL = 10 * time.Minute
	cvdTTL   = 5 * time.Minute

	maxFailures = 3
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Cache struct {
	rdb *redis.Client
	log *zap.Logger

	mu       sync.RWMutex
	healthy  bool
	failures int

	locks *memLocks
}

// NewCache не падает без Redis: пустой адрес или неудачный ping дают деградированный режим.
func NewCache(ctx context.Context, cfg Config, log *zap.Logger) *Cache {
	c := &Cache{log: log, locks: newMemLocks()}
	if cfg.Addr == "" {
		log.Warn("[REDIS] address not set, running without cache")
		return c
	}
	c.rdb = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   2,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("[REDIS] initial ping failed, degraded mode", zap.Error(err))
		return c
	}
	c.healthy = true
	log.Info("[REDIS] connected", zap.String("addr", cfg.Addr))
	return c
}

// NewWithClient: для тестов и внешнего клиента.
func NewWithClient(rdb *redis.Client, log *zap.Logger) *Cache {
	return &Cache{rdb: rdb, log: log, healthy: rdb != nil, locks: newMemLocks()}
}

func (c *Cache) Healthy() bool {
	if c.rdb == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Cache) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil || errors.Is(err, redis.Nil) {
		if !c.healthy {
			c.log.Info("[REDIS] recovered")
		}
		c.healthy, c.failures = true, 0
		return
	}
	c.failures++
	if c.failures >= maxFailures && c.healthy {
		c.healthy = false
		c.log.Warn("[REDIS] marked unhealthy", zap.Int("failures", c.failures), zap.Error(err))
	}
}

// usable: клиент есть; нездоровый Redis всё равно пробуем, чтобы заметить восстановление.
func (c *Cache) usable() bool { return c.rdb != nil }

func (c *Cache) SetPrice(ctx context.Context, symbol string, px float64) {
	if !c.usable() || px <= 0 {
		return
	}
	err := c.rdb.Set(ctx, keyPrice+helper.NormalizeSymbol(symbol), strconv.FormatFloat(px, 'f', -1, 64), priceTTL).Err()
	c.record(err)
}

// Price: последняя цена из кэша; ok=false, если её нет или Redis недоступен.
func (c *Cache) Price(ctx context.Context, symbol string) (float64, bool) {
	if !c.usable() {
		return 0, false
	}
	s, err := c.rdb.Get(ctx, keyPrice+helper.NormalizeSymbol(symbol)).Result()
	c.record(err)
	if err != nil {
		return 0, false
	}
	px, err := strconv.ParseFloat(s, 64)
	if err != nil || px <= 0 {
		return 0, false
	}
	return px, true
}

// PublishCVD кладёт снимок CVD по символам одним документом.
func (c *Cache) PublishCVD(ctx context.Context, snapshot map[string]float64) error {
	if !c.usable() {
		return nil
	}
	raw, err := sonic.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "PublishCVD marshal")
	}
	err = c.rdb.Set(ctx, keyCVD, raw, cvdTTL).Err()
	c.record(err)
	return errors.Wrap(err, "PublishCVD")
}

func (c *Cache) CVDSnapshot(ctx context.Context) (map[string]float64, error) {
	out := map[string]float64{}
	if !c.usable() {
		return out, nil
	}
	raw, err := c.rdb.Get(ctx, keyCVD).Bytes()
	c.record(err)
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "CVDSnapshot")
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "CVDSnapshot decode")
	}
	return out, nil
}

func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
