// Package bankroll: допуск новых позиций под общий риск-кэп, резервирование слотов,
// сверка с биржей и жёсткий сброс слотов.
package bankroll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

type Config struct {
	MaxSlots      int              `mapstructure:"max_slots"`
	Fast          models.SlotRange `mapstructure:"fast"`
	Trend         models.SlotRange `mapstructure:"trend"`
	InitialSlots  int              `mapstructure:"initial_slots"`
	RiskCap       float64          `mapstructure:"risk_cap"`
	MarginPerSlot float64          `mapstructure:"margin_per_slot"`
	Leverage      float64          `mapstructure:"leverage"`

	// проценты движения цены
	FastStopPct   float64 `mapstructure:"fast_stop_pct"`
	TrendStopPct  float64 `mapstructure:"trend_stop_pct"`
	FastTargetPct float64 `mapstructure:"fast_target_pct"`

	MinBalance        float64 `mapstructure:"min_balance"`
	ConfiguredBalance float64 `mapstructure:"configured_balance"`

	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	ReconcileGrace time.Duration `mapstructure:"reconcile_grace"`
}

func (c Config) rangeFor(cat models.Category) models.SlotRange {
	if cat == models.CategoryTrend {
		return c.Trend
	}
	return c.Fast
}

// categoryFor: категория по разделу, в который попадает id слота.
func (c Config) categoryFor(id int) models.Category {
	if c.Trend.Contains(id) {
		return models.CategoryTrend
	}
	return models.CategoryFast
}

func (c Config) stopPct(cat models.Category) float64 {
	if cat == models.CategoryTrend {
		return c.TrendStopPct
	}
	return c.FastStopPct
}

type SlotStore interface {
	Slots(ctx context.Context) ([]models.Slot, error)
	UpdateSlot(ctx context.Context, id int, u models.SlotUpdate) error
	AppendTrade(ctx context.Context, rec models.TradeRecord) error
	SaveBankrollStatus(ctx context.Context, st models.BankrollStatus) error
}

// MarginSource: маржа на сделку текущего цикла (CycleVault).
type MarginSource interface {
	PerTradeMargin() float64
}

type Notifier interface {
	Notify(ctx context.Context, format string, args ...any)
}

// CloseLocker: идемпотентность закрытия: один закрывающий на символ.
type CloseLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string)
}

type Allocator struct {
	cfg      Config
	mode     models.Mode
	store    SlotStore
	exec     exchange.Executor
	market   exchange.MarketData
	margin   MarginSource
	pending  *Reservations
	resetter *Resetter
	locker   CloseLocker
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time

	// admitMu сериализует только решение о допуске и резервирование
	admitMu sync.Mutex

	statusMu sync.RWMutex
	status   models.BankrollStatus
}

type Deps struct {
	Mode     models.Mode
	Store    SlotStore
	Exec     exchange.Executor
	Market   exchange.MarketData
	Margin   MarginSource
	Pending  *Reservations
	Resetter *Resetter
	Locker   CloseLocker
	Notifier Notifier
	Log      *zap.Logger
}

func NewAllocator(cfg Config, d Deps) *Allocator {
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 30 * time.Second
	}
	return &Allocator{
		cfg:      cfg,
		mode:     d.Mode,
		store:    d.Store,
		exec:     d.Exec,
		market:   d.Market,
		margin:   d.Margin,
		pending:  d.Pending,
		resetter: d.Resetter,
		locker:   d.Locker,
		notifier: d.Notifier,
		log:      d.Log,
		now:      time.Now,
	}
}

// RealRisk: доля маржи под риском: рисковые слоты плюс незавершённые резервы.
func RealRisk(slots []models.Slot, pending int, marginPerSlot float64) float64 {
	n := pending
	for _, s := range slots {
		if s.CountsAsRisk() {
			n++
		}
	}
	return float64(n) * marginPerSlot
}

func (a *Allocator) CalculateRealRisk(ctx context.Context) float64 {
	slots, _ := a.store.Slots(ctx)
	return RealRisk(slots, a.pending.Count(), a.cfg.MarginPerSlot)
}

// CanOpenNewSlot возвращает id слота для символа или false, если допуска нет.
func (a *Allocator) CanOpenNewSlot(ctx context.Context, symbol string, cat models.Category) (int, bool) {
	a.admitMu.Lock()
	defer a.admitMu.Unlock()

	slots, _ := a.store.Slots(ctx)
	id, _ := a.canOpen(slots, symbol, cat)
	return id, id > 0
}

// canOpen: чистое решение по снимку слотов и текущим резервам. Вызывать под admitMu.
func (a *Allocator) canOpen(slots []models.Slot, symbol string, cat models.Category) (int, string) {
	sym := helper.NormalizeSymbol(symbol)

	// 1) дубликаты
	for _, s := range slots {
		if s.Occupied() && helper.NormalizeSymbol(s.Symbol) == sym {
			return 0, "symbol already in slot"
		}
	}
	if a.pending.Has(sym) {
		return 0, "symbol pending"
	}

	// 2) раздел категории
	rng := a.cfg.rangeFor(cat)
	bySlot := make(map[int]models.Slot, len(slots))
	for _, s := range slots {
		bySlot[s.ID] = s
	}

	// 3) риск-кэп
	risk := RealRisk(slots, a.pending.Count(), a.cfg.MarginPerSlot)
	if risk+a.cfg.MarginPerSlot > a.cfg.RiskCap+1e-9 {
		return 0, "risk cap"
	}

	// 4) прогрессивное расширение категории
	active, riskFree := 0, 0
	for id := rng.From; id <= rng.To; id++ {
		s, ok := bySlot[id]
		switch {
		case ok && s.Occupied():
			active++
			if s.RiskStatus == models.RiskFree {
				riskFree++
			}
		case a.pending.SlotTaken(id):
			active++
		}
	}
	if allowed := a.cfg.InitialSlots + riskFree; active >= allowed {
		return 0, "category cap"
	}

	// 5) первый свободный
	for id := rng.From; id <= rng.To; id++ {
		if s, ok := bySlot[id]; ok && s.Occupied() {
			continue
		}
		if a.pending.SlotTaken(id) {
			continue
		}
		return id, ""
	}
	return 0, "no free slot"
}

func (a *Allocator) Status() models.BankrollStatus {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}
