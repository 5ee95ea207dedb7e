package service

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

type TopSource interface {
	TopByTurnover(ctx context.Context, n int) ([]string, error)
}

type SlotLister interface {
	Slots(ctx context.Context) ([]models.Slot, error)
}

type WatchlistSink interface {
	SetWatchlist(symbols []string)
	Watchlist() []string
}

type Config struct {
	TopN     int
	LTF      string
	HTF      string
	Candles  int
	Parallel int
}

// Watchlist: список подписки потока: топ по обороту плюс все символы в слотах.
// Новые символы прогреваются свечами.
type Watchlist struct {
	cfg     Config
	top     TopSource
	slots   SlotLister
	sink    WatchlistSink
	candles exchange.CandleSource
	log     *zap.Logger
}

func NewWatchlist(cfg Config, top TopSource, slots SlotLister, sink WatchlistSink, candles exchange.CandleSource, log *zap.Logger) *Watchlist {
	if cfg.TopN <= 0 {
		cfg.TopN = 30
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	return &Watchlist{cfg: cfg, top: top, slots: slots, sink: sink, candles: candles, log: log}
}

// Refresh пересобирает список. Символы занятых слотов остаются в подписке даже
// при недоступном топе.
func (w *Watchlist) Refresh(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	top, topErr := w.top.TopByTurnover(ctx, w.cfg.TopN)
	for _, s := range top {
		set[helper.NormalizeSymbol(s)] = struct{}{}
	}
	if slots, err := w.slots.Slots(ctx); err == nil || len(slots) > 0 {
		for _, s := range slots {
			if s.Occupied() {
				set[helper.NormalizeSymbol(s.Symbol)] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		if topErr != nil {
			return nil, errors.Wrap(topErr, "watchlist: top")
		}
		return nil, nil
	}

	prev := make(map[string]struct{})
	for _, s := range w.sink.Watchlist() {
		prev[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	var fresh []string
	for s := range set {
		out = append(out, s)
		if _, ok := prev[s]; !ok {
			fresh = append(fresh, s)
		}
	}
	sort.Strings(out)
	sort.Strings(fresh)

	w.sink.SetWatchlist(out)
	w.log.Info("[BOOT] watchlist", zap.Int("symbols", len(out)), zap.Int("new", len(fresh)))

	if err := w.Warmup(ctx, fresh); err != nil {
		w.log.Warn("[BOOT] warmup finished with error", zap.Error(err))
	}
	if topErr != nil {
		return out, errors.Wrap(topErr, "watchlist: top")
	}
	return out, nil
}

// Warmup подтягивает свечи обоих ТФ, ограничивая параллелизм. Первая ошибка
// возвращается, остальные символы догружаются.
func (w *Watchlist) Warmup(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 || w.candles == nil {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(w.cfg.Parallel)
	for _, sym := range symbols {
		g.Go(func() error {
			if _, err := w.candles.Candles(ctx, sym, w.cfg.HTF, w.cfg.Candles); err != nil {
				return errors.Wrapf(err, "warmup HTF %s", sym)
			}
			if _, err := w.candles.Candles(ctx, sym, w.cfg.LTF, w.cfg.Candles); err != nil {
				return errors.Wrapf(err, "warmup LTF %s", sym)
			}
			return nil
		})
	}
	return g.Wait()
}
