package service

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

type candleEntry struct {
	candles []models.Candle
	limit   int
	at      time.Time
}

// CandleCache: REST-свечи с коротким TTL по таймфрейму, чтобы частый скан
// не упирался в лимиты биржи.
type CandleCache struct {
	src exchange.CandleSource
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]candleEntry
}

var _ exchange.CandleSource = (*CandleCache)(nil)

func NewCandleCache(src exchange.CandleSource) *CandleCache {
	return &CandleCache{src: src, now: time.Now, entries: make(map[string]candleEntry)}
}

func (c *CandleCache) Candles(ctx context.Context, symbol, bar string, limit int) ([]models.Candle, error) {
	sym := helper.NormalizeSymbol(symbol)
	key := sym + "|" + bar

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && e.limit >= limit && c.now().Sub(e.at) < cacheTTL(bar) {
		return tail(e.candles, limit), nil
	}

	cs, err := c.src.Candles(ctx, sym, bar, limit)
	if err != nil {
		if ok && len(e.candles) > 0 {
			return tail(e.candles, limit), nil
		}
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = candleEntry{candles: cs, limit: limit, at: c.now()}
	c.mu.Unlock()
	return cs, nil
}

// Forget убирает символ из кэша (выпал из списка наблюдения).
func (c *CandleCache) Forget(symbol string) {
	prefix := helper.NormalizeSymbol(symbol) + "|"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func tail(cs []models.Candle, n int) []models.Candle {
	if n <= 0 || len(cs) <= n {
		return cs
	}
	return cs[len(cs)-n:]
}

// cacheTTL: десятая часть бара, в пределах 5s..5m.
func cacheTTL(bar string) time.Duration {
	d := barDuration(bar) / 10
	if d < 5*time.Second {
		return 5 * time.Second
	}
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

// barDuration: "5m", "1H", "4h", "1D", "1W".
func barDuration(bar string) time.Duration {
	bar = strings.TrimSpace(bar)
	if len(bar) < 2 {
		return time.Minute
	}
	n, err := strconv.Atoi(bar[:len(bar)-1])
	if err != nil || n <= 0 {
		return time.Minute
	}
	unit := time.Minute
	switch bar[len(bar)-1] {
	case 'm':
		unit = time.Minute
	case 'H', 'h':
		unit = time.Hour
	case 'D', 'd':
		unit = 24 * time.Hour
	case 'W', 'w':
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(n) * unit
}
