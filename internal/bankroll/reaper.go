package bankroll

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/metrics"
	"slot_trader/internal/models"
)

// ReaperLoop: сверка, затем обновление статуса банка. Каждая итерация изолирована.
func (a *Allocator) ReaperLoop(ctx context.Context, rec *Reconciler) {
	helper.RunEvery(ctx, a.log, "reaper", a.cfg.ReaperInterval, func(ctx context.Context) error {
		if _, err := rec.Reconcile(ctx); err != nil {
			a.log.Warn("[REAPER] reconcile failed", zap.Error(err))
		}
		_, err := a.RefreshStatus(ctx)
		return err
	})
}

// RefreshStatus пересчитывает и сохраняет статус банка. При недоступной бирже
// остаётся последний известный баланс.
func (a *Allocator) RefreshStatus(ctx context.Context) (models.BankrollStatus, error) {
	slots, slotsErr := a.store.Slots(ctx)

	prev := a.Status()
	balance := prev.Balance
	if b, err := a.sizingBalance(ctx); err == nil {
		balance = b
	} else {
		a.log.Debug("[STATUS] balance from cache", zap.Error(err))
	}

	st := models.BankrollStatus{
		Balance:  balance,
		RealRisk: RealRisk(slots, a.pending.Count(), a.cfg.MarginPerSlot),
		SafeMode: a.exec.SafeMode(),
		Mode:     a.mode,
	}
	for _, s := range slots {
		if !s.Occupied() {
			continue
		}
		st.OccupiedSlots++
		if s.RiskStatus == models.RiskFree {
			st.RiskFreeSlots++
		}
	}
	st.UpdatedAt = a.now()

	a.statusMu.Lock()
	a.status = st
	a.statusMu.Unlock()

	metrics.Balance.Set(st.Balance)
	metrics.RealRisk.Set(st.RealRisk)
	metrics.OccupiedSlots.Set(float64(st.OccupiedSlots))

	if err := a.store.SaveBankrollStatus(ctx, st); err != nil {
		return st, errors.Wrap(err, "RefreshStatus: save")
	}
	if slotsErr != nil {
		return st, errors.Wrap(slotsErr, "RefreshStatus: slots")
	}
	return st, nil
}
