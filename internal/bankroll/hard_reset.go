package bankroll

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/metrics"
	"slot_trader/internal/models"
)

// TradeRegistrar: CycleVault со стороны сброса слота.
type TradeRegistrar interface {
	RegisterTrade(ctx context.Context, symbol string, pnl float64, category models.Category) error
}

// Resetter: жёсткий сброс слота: очистка документа, запись сделки в историю
// и уведомление CycleVault.
type Resetter struct {
	mode     models.Mode
	store    SlotStore
	vault    TradeRegistrar
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	retry    func() backoff.BackOff
}

func NewResetter(mode models.Mode, store SlotStore, vault TradeRegistrar, n Notifier, log *zap.Logger) *Resetter {
	return &Resetter{mode: mode, store: store, vault: vault, notifier: n, log: log, now: time.Now, retry: resetBackoff}
}

// resetBackoff: повтор без ограничения по времени, остановит только ctx.
func resetBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Record собирает запись о закрытии из слота.
func (r *Resetter) Record(s models.Slot, exit, pnl float64, reason models.CloseReason) models.TradeRecord {
	return models.TradeRecord{
		SlotID:     s.ID,
		Symbol:     s.Symbol,
		Side:       s.Side,
		Category:   s.Category,
		EntryPrice: s.EntryPrice,
		ExitPrice:  exit,
		Quantity:   s.Quantity,
		PnL:        pnl,
		Reason:     reason,
		Mode:       r.mode,
		OpenedAt:   s.OpenedAt,
		ClosedAt:   r.now(),
	}
}

// HardReset идемпотентен: если слот уже пуст или занят другим символом, ничего не делает.
func (r *Resetter) HardReset(ctx context.Context, rec models.TradeRecord) error {
	slots, err := r.store.Slots(ctx)
	if err != nil && len(slots) == 0 {
		return errors.Wrap(err, "HardReset: slots")
	}
	current, ok := findSlot(slots, rec.SlotID)
	if !ok || !current.Occupied() || !helper.SameSymbol(current.Symbol, rec.Symbol) {
		// слот могли подобрать по символу под другим id (например, после рестарта)
		current, ok = findBySymbol(slots, rec.Symbol)
		if !ok {
			r.log.Debug("[RESET] slot already clear", zap.Int("slot", rec.SlotID), zap.String("symbol", rec.Symbol))
			return nil
		}
		rec.SlotID = current.ID
	}
	if rec.Category == "" {
		rec.Category = current.Category
	}
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = r.now()
	}

	if err := r.store.UpdateSlot(ctx, rec.SlotID, models.SlotCleared(r.now())); err != nil {
		return errors.Wrapf(err, "HardReset: clear slot %d", rec.SlotID)
	}
	if err := r.store.AppendTrade(ctx, rec); err != nil {
		r.log.Warn("[RESET] trade history write failed", zap.String("symbol", rec.Symbol), zap.Error(err))
	}
	if err := r.vault.RegisterTrade(ctx, rec.Symbol, rec.PnL, rec.Category); err != nil {
		r.log.Warn("[RESET] vault register failed", zap.String("symbol", rec.Symbol), zap.Error(err))
	}

	metrics.Closes.WithLabelValues(string(rec.Reason), string(r.mode)).Inc()
	r.log.Info("[RESET] slot closed",
		zap.Int("slot", rec.SlotID),
		zap.String("symbol", rec.Symbol),
		zap.String("reason", string(rec.Reason)),
		zap.Float64("pnl", rec.PnL),
	)
	icon := "🔴"
	if rec.PnL > 0 {
		icon = "✅"
	}
	r.notifier.Notify(ctx, "%s [%s] slot %d closed %s pnl=%.4f", icon, rec.Symbol, rec.SlotID, rec.Reason, rec.PnL)
	return nil
}

// Consume обрабатывает запросы на сброс от paper-движка до закрытия канала.
// Сброс повторяется, пока не пройдёт; done вызывается после успешного сброса.
func (r *Resetter) Consume(ctx context.Context, in <-chan models.TradeRecord, done func(models.TradeRecord)) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			helper.RunOnce(ctx, r.log, "hard_reset", func(ctx context.Context) error {
				if err := r.resetWithRetry(ctx, rec); err != nil {
					return err
				}
				if done != nil {
					done(rec)
				}
				return nil
			})
		}
	}
}

func (r *Resetter) resetWithRetry(ctx context.Context, rec models.TradeRecord) error {
	op := func() error {
		err := r.HardReset(ctx, rec)
		if errors.Is(err, models.ErrValidation) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn("[RESET] hard reset failed, retrying",
			zap.Int("slot", rec.SlotID),
			zap.String("symbol", rec.Symbol),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(r.retry(), ctx), notify)
}

func findSlot(slots []models.Slot, id int) (models.Slot, bool) {
	for _, s := range slots {
		if s.ID == id {
			return s, true
		}
	}
	return models.Slot{}, false
}

func findBySymbol(slots []models.Slot, symbol string) (models.Slot, bool) {
	for _, s := range slots {
		if s.Occupied() && helper.SameSymbol(s.Symbol, symbol) {
			return s, true
		}
	}
	return models.Slot{}, false
}
