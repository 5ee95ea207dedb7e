package bankroll

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/metrics"
	"slot_trader/internal/models"
)

// SimLedger: paper-движок со стороны сверки: повторное принятие позиции из слота.
type SimLedger interface {
	Adopt(ctx context.Context, s models.Slot) error
	// AwaitingReset: позиция уже закрыта движком, сброс слота стоит в очереди.
	AwaitingReset(symbol string) bool
}

// Reconciler выравнивает слоты по фактическим позициям биржи.
// Повторный запуск без изменений на бирже ничего не меняет.
type Reconciler struct {
	cfg      Config
	mode     models.Mode
	store    SlotStore
	exec     exchange.Executor
	ledger   SimLedger
	pending  *Reservations
	resetter *Resetter
	log      *zap.Logger
	now      func() time.Time
}

func NewReconciler(cfg Config, mode models.Mode, store SlotStore, exec exchange.Executor, ledger SimLedger,
	pending *Reservations, resetter *Resetter, log *zap.Logger) *Reconciler {
	if cfg.ReconcileGrace <= 0 {
		cfg.ReconcileGrace = 120 * time.Second
	}
	return &Reconciler{
		cfg:      cfg,
		mode:     mode,
		store:    store,
		exec:     exec,
		ledger:   ledger,
		pending:  pending,
		resetter: resetter,
		log:      log,
		now:      time.Now,
	}
}

// Reconcile возвращает число изменений, внесённых за проход.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "bankroll.Reconcile")
	defer span.Finish()

	positions, err := r.exec.Positions(ctx)
	if err != nil {
		// без правды биржи ничего не чистим
		return 0, errors.Wrap(err, "Reconcile: positions")
	}
	slots, err := r.store.Slots(ctx)
	if err != nil && len(slots) == 0 {
		return 0, errors.Wrap(err, "Reconcile: slots")
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })

	mutations := 0
	now := r.now()
	occupied := make(map[string]bool, len(slots))

	for i, s := range slots {
		if !s.Occupied() {
			continue
		}
		sym := helper.NormalizeSymbol(s.Symbol)
		occupied[sym] = true

		if r.fresh(s, now) || r.pending.Has(sym) {
			continue
		}

		pos, onExchange := positions[sym]
		if onExchange {
			if changed, err := r.refresh(ctx, s, pos, now); err != nil {
				r.log.Warn("[SYNC] refresh failed", zap.String("symbol", sym), zap.Error(err))
			} else if changed {
				mutations++
			}
			continue
		}

		switch r.mode {
		case models.ModePaper:
			if !s.Side.Valid() || s.EntryPrice <= 0 {
				r.log.Warn("[SYNC] invalid slot skipped",
					zap.Int("slot", s.ID), zap.String("symbol", sym),
					zap.String("side", string(s.Side)), zap.Float64("entry", s.EntryPrice))
				continue
			}
			if r.ledger == nil {
				continue
			}
			if r.ledger.AwaitingReset(sym) {
				r.log.Debug("[SYNC] close queued, slot reset pending", zap.Int("slot", s.ID), zap.String("symbol", sym))
				continue
			}
			if err := r.ledger.Adopt(ctx, s); err != nil {
				r.log.Warn("[SYNC] re-adopt failed", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			r.log.Info("[SYNC] slot re-adopted into paper ledger", zap.Int("slot", s.ID), zap.String("symbol", sym))
			mutations++

		default:
			if err := r.clearStale(ctx, s); err != nil {
				r.log.Warn("[SYNC] stale clear failed", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			slots[i] = models.Slot{ID: s.ID}
			delete(occupied, sym)
			mutations++
		}
	}

	// позиции без слота
	orphans := make([]string, 0)
	for sym := range positions {
		if !occupied[sym] && !r.pending.Has(sym) {
			orphans = append(orphans, sym)
		}
	}
	sort.Strings(orphans)

	for _, sym := range orphans {
		pos := positions[sym]
		if pos.Size <= 0 || !pos.Side.Valid() {
			continue
		}
		idx := r.firstFree(slots)
		if idx < 0 {
			r.log.Warn("[SYNC] orphan position without free slot", zap.String("symbol", sym),
				zap.Error(models.ErrInconsistent))
			continue
		}
		adopted := r.recovered(slots[idx].ID, sym, pos, now)
		if err := r.store.UpdateSlot(ctx, adopted.ID, models.SlotOccupied(adopted)); err != nil {
			r.log.Warn("[SYNC] orphan adopt failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		slots[idx] = adopted
		mutations++
		r.log.Info("[SYNC] orphan adopted", zap.Int("slot", adopted.ID), zap.String("symbol", sym))

		// расчётный стоп слота ставится и на бирже
		if adopted.CurrentStop > 0 {
			if err := r.exec.SetStop(ctx, sym, pos.Side, pos.Size, adopted.CurrentStop); err != nil {
				r.log.Warn("[SYNC] orphan stop placement failed",
					zap.String("symbol", sym), zap.Float64("stop", adopted.CurrentStop), zap.Error(err))
			}
		}
	}

	if mutations > 0 {
		metrics.ReconcileMutations.Add(float64(mutations))
	}
	span.SetTag("mutations", mutations)
	return mutations, nil
}

func (r *Reconciler) fresh(s models.Slot, now time.Time) bool {
	last := s.UpdatedAt
	if s.OpenedAt.After(last) {
		last = s.OpenedAt
	}
	return !last.IsZero() && now.Sub(last) < r.cfg.ReconcileGrace
}

// clearStale: живой режим, позиции на бирже нет. Закрываем через сброс с PnL биржи,
// чтобы цикл всё равно продвинулся.
func (r *Reconciler) clearStale(ctx context.Context, s models.Slot) error {
	pnl, exit, known, err := r.exec.ClosedPnL(ctx, s.Symbol)
	if err != nil {
		r.log.Debug("[SYNC] closed pnl unavailable", zap.String("symbol", s.Symbol), zap.Error(err))
	}
	if !known {
		pnl, exit = 0, s.EntryPrice
	}
	return r.resetter.HardReset(ctx, r.resetter.Record(s, exit, pnl, models.ReasonExchangeSync))
}

// refresh подтягивает qty/entry с биржи только если они реально разошлись.
func (r *Reconciler) refresh(ctx context.Context, s models.Slot, pos models.Position, now time.Time) (bool, error) {
	qtyDrift := pos.Size > 0 && !almostEqual(pos.Size, s.Quantity)
	entryDrift := pos.AvgPrice > 0 && !almostEqual(pos.AvgPrice, s.EntryPrice)
	if !qtyDrift && !entryDrift {
		return false, nil
	}
	upd := models.SlotUpdate{"updated_at": now}
	if qtyDrift {
		upd["quantity"] = pos.Size
	}
	if entryDrift {
		upd["entry_price"] = pos.AvgPrice
	}
	return true, r.store.UpdateSlot(ctx, s.ID, upd)
}

func (r *Reconciler) firstFree(slots []models.Slot) int {
	for i, s := range slots {
		if s.Occupied() || r.pending.SlotTaken(s.ID) {
			continue
		}
		if r.cfg.MaxSlots > 0 && s.ID > r.cfg.MaxSlots {
			continue
		}
		return i
	}
	return -1
}

func (r *Reconciler) recovered(id int, sym string, pos models.Position, now time.Time) models.Slot {
	cat := r.cfg.categoryFor(id)
	stop := 0.0
	if pos.AvgPrice > 0 {
		stop = pos.AvgPrice * (1 - pos.Side.Sign()*r.cfg.stopPct(cat)/100)
	}
	return models.Slot{
		ID:          id,
		Symbol:      sym,
		Side:        pos.Side,
		EntryPrice:  pos.AvgPrice,
		CurrentStop: stop,
		Quantity:    pos.Size,
		Category:    cat,
		RiskStatus:  models.Recovered,
		OpenedAt:    now,
		UpdatedAt:   now,
	}
}

func almostEqual(a, b float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b)/scale < 1e-6
}
