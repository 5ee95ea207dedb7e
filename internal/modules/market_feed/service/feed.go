// Package service: сводная лента цен: свежий тикер из WebSocket, затем REST,
// затем последний известный снимок (память или Redis).
package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, px float64)
	Price(ctx context.Context, symbol string) (float64, bool)
}

type quote struct {
	px float64
	at time.Time
}

// Feed реализует exchange.MarketData поверх REST-клиента.
type Feed struct {
	rest   exchange.MarketData
	cache  PriceCache
	maxAge time.Duration
	log    *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	quotes map[string]quote
}

func NewFeed(rest exchange.MarketData, cache PriceCache, maxAge time.Duration, log *zap.Logger) *Feed {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &Feed{
		rest:   rest,
		cache:  cache,
		maxAge: maxAge,
		log:    log,
		now:    time.Now,
		quotes: make(map[string]quote),
	}
}

// OnPrice: вход для потока тикеров.
func (f *Feed) OnPrice(symbol string, px float64, at time.Time) {
	if px <= 0 {
		return
	}
	sym := helper.NormalizeSymbol(symbol)
	f.mu.Lock()
	if q, ok := f.quotes[sym]; ok && q.at.After(at) {
		f.mu.Unlock()
		return
	}
	f.quotes[sym] = quote{px: px, at: at}
	f.mu.Unlock()
}

func (f *Feed) fresh(sym string) (float64, bool) {
	f.mu.RLock()
	q, ok := f.quotes[sym]
	f.mu.RUnlock()
	if !ok || f.now().Sub(q.at) > f.maxAge {
		return 0, false
	}
	return q.px, true
}

func (f *Feed) stale(ctx context.Context, sym string) (float64, bool) {
	f.mu.RLock()
	q, ok := f.quotes[sym]
	f.mu.RUnlock()
	if ok && q.px > 0 {
		return q.px, true
	}
	if f.cache != nil {
		return f.cache.Price(ctx, sym)
	}
	return 0, false
}

func (f *Feed) remember(ctx context.Context, sym string, px float64) {
	f.OnPrice(sym, px, f.now())
	if f.cache != nil {
		f.cache.SetPrice(ctx, sym, px)
	}
}

func (f *Feed) LastPrice(ctx context.Context, symbol string) (float64, error) {
	sym := helper.NormalizeSymbol(symbol)
	if px, ok := f.fresh(sym); ok {
		return px, nil
	}
	px, err := f.rest.LastPrice(ctx, sym)
	if err == nil && px > 0 {
		f.remember(ctx, sym, px)
		return px, nil
	}
	if cached, ok := f.stale(ctx, sym); ok {
		f.log.Debug("[FEED] serving cached price", zap.String("symbol", sym), zap.Error(err))
		return cached, nil
	}
	if err == nil {
		err = errors.Wrapf(models.ErrNoPrice, "LastPrice %s", sym)
	}
	return 0, err
}

// LastPrices: один батч на все символы без свежего тикера.
func (f *Feed) LastPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var missing []string
	for _, s := range symbols {
		sym := helper.NormalizeSymbol(s)
		if px, ok := f.fresh(sym); ok {
			out[sym] = px
			continue
		}
		missing = append(missing, sym)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch, err := f.rest.LastPrices(ctx, missing)
	for _, sym := range missing {
		if px, ok := batch[sym]; ok && px > 0 {
			out[sym] = px
			f.remember(ctx, sym, px)
			continue
		}
		if px, ok := f.stale(ctx, sym); ok {
			out[sym] = px
		}
	}
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

func (f *Feed) Instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	return f.rest.Instrument(ctx, symbol)
}
