package bankroll

import (
	"context"
	"time"

	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

const closeLockTTL = 15 * time.Second

func CloseLockKey(symbol string) string { return "lock:close:" + helper.NormalizeSymbol(symbol) }

// EmergencyCloseAll закрывает всё полным размером, который отдаёт биржа, а не кэш слота.
// Слот сбрасывается при любом исходе, кроме символа, который уже закрывает другой.
func (a *Allocator) EmergencyCloseAll(ctx context.Context) int {
	slots, err := a.store.Slots(ctx)
	if err != nil && len(slots) == 0 {
		a.log.Error("[EMERGENCY] slots unavailable", zap.Error(err))
		return 0
	}
	positions, posErr := a.exec.Positions(ctx)
	if posErr != nil {
		a.log.Error("[EMERGENCY] positions unavailable, using slot quantities", zap.Error(posErr))
	}

	closed := 0
	for _, s := range slots {
		if !s.Occupied() {
			continue
		}
		sym := helper.NormalizeSymbol(s.Symbol)
		side, size := s.Side, s.Quantity
		if posErr == nil {
			p, ok := positions[sym]
			side, size = p.Side, p.Size
			if !ok {
				size = 0
			}
		}

		var res models.CloseResult
		if size > 0 {
			r, locked, cerr := a.closeLocked(ctx, sym, side, size)
			if !locked {
				a.log.Info("[EMERGENCY] close already in flight, skipped", zap.String("symbol", sym))
				continue
			}
			if cerr != nil {
				a.log.Error("[EMERGENCY] close failed", zap.String("symbol", sym), zap.Error(cerr))
			} else if r.OrderID != "" || r.Known {
				closed++
			}
			res = r
		}
		a.resetAfterClose(ctx, s, res, models.ReasonEmergencyClose)
	}

	a.notifier.Notify(ctx, "🚨 Emergency close: %d positions closed", closed)
	if _, err := a.RefreshStatus(ctx); err != nil {
		a.log.Warn("[EMERGENCY] status refresh failed", zap.Error(err))
	}
	return closed
}

// closeLocked: закрытие под распределённым замком символа.
// locked=false: замок у другого закрывающего, ничего не делалось.
func (a *Allocator) closeLocked(ctx context.Context, symbol string, side models.Side, size float64) (res models.CloseResult, locked bool, err error) {
	key := CloseLockKey(symbol)
	ok, lerr := a.locker.TryLock(ctx, key, closeLockTTL)
	if lerr != nil {
		a.log.Warn("[CLOSE] lock error, closing anyway", zap.String("symbol", symbol), zap.Error(lerr))
	} else if !ok {
		return models.CloseResult{}, false, nil
	}
	defer a.locker.Unlock(ctx, key)
	res, err = a.exec.ClosePosition(ctx, symbol, side, size)
	return res, true, err
}

// resetAfterClose: с известным PnL: полноценный сброс с записью сделки, иначе просто очистка.
func (a *Allocator) resetAfterClose(ctx context.Context, s models.Slot, res models.CloseResult, reason models.CloseReason) {
	if res.Known {
		rec := a.resetter.Record(s, res.ExitPrice, res.PnL, reason)
		if err := a.resetter.HardReset(ctx, rec); err == nil {
			return
		}
	}
	if err := a.store.UpdateSlot(ctx, s.ID, models.SlotCleared(a.now())); err != nil {
		a.log.Error("[CLOSE] slot clear failed", zap.Int("slot", s.ID), zap.Error(err))
	}
}
