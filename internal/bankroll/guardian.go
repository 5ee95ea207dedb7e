package bankroll

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
	"slot_trader/internal/protocol"
)

// Guard: один проход сопровождения живых слотов по протоколу: перенос стопа на бирже
// и закрытие через замок символа. В paper-режиме то же самое делает движок.
func (a *Allocator) Guard(ctx context.Context, proto protocol.Config) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "bankroll.Guard")
	defer span.Finish()

	slots, err := a.store.Slots(ctx)
	if err != nil && len(slots) == 0 {
		return errors.Wrap(err, "Guard: slots")
	}
	open := make([]models.Slot, 0, len(slots))
	symbols := make([]string, 0, len(slots))
	for _, s := range slots {
		if s.Occupied() {
			open = append(open, s)
			symbols = append(symbols, helper.NormalizeSymbol(s.Symbol))
		}
	}
	if len(open) == 0 {
		return nil
	}

	prices, err := a.market.LastPrices(ctx, symbols)
	if err != nil {
		return errors.Wrap(err, "Guard: prices")
	}

	for _, s := range open {
		px, ok := prices[helper.NormalizeSymbol(s.Symbol)]
		if !ok || px <= 0 {
			continue
		}
		d := protocol.Evaluate(proto, s, px)
		switch {
		case d.Close:
			a.guardClose(ctx, s, px, d.Reason)
		case d.StopUpdate != nil:
			a.guardStop(ctx, s, *d.StopUpdate)
		}
	}
	return nil
}

func (a *Allocator) guardClose(ctx context.Context, s models.Slot, px float64, reason models.CloseReason) {
	sym := helper.NormalizeSymbol(s.Symbol)
	res, locked, err := a.closeLocked(ctx, sym, s.Side, s.Quantity)
	if !locked {
		// закрывает кто-то другой
		return
	}
	if err != nil {
		// позиции могло уже не быть (сработал биржевой стоп): слот добьёт сверка
		a.log.Warn("[GUARD] close failed", zap.String("symbol", sym), zap.String("reason", string(reason)), zap.Error(err))
		return
	}
	if !res.Known {
		res.ExitPrice = px
		res.PnL = (px - s.EntryPrice) * s.Quantity * s.Side.Sign()
		res.Known = true
	}
	a.resetAfterClose(ctx, s, res, reason)
}

func (a *Allocator) guardStop(ctx context.Context, s models.Slot, upd protocol.StopUpdate) {
	sym := helper.NormalizeSymbol(s.Symbol)
	stop := upd.Stop
	if inst, err := a.market.Instrument(ctx, sym); err == nil {
		stop = helper.RoundToTick(stop, inst.TickSize)
	}
	if !protocol.Improves(s.Side, s.CurrentStop, stop) {
		return
	}
	if err := a.exec.SetStop(ctx, sym, s.Side, s.Quantity, stop); err != nil {
		a.log.Warn("[GUARD] set stop failed", zap.String("symbol", sym), zap.Float64("stop", stop), zap.Error(err))
		return
	}
	if err := a.store.UpdateSlot(ctx, s.ID, models.SlotStopMoved(stop, upd.RiskStatus, a.now())); err != nil {
		a.log.Error("[GUARD] slot stop write failed", zap.Int("slot", s.ID), zap.Error(err))
		return
	}
	a.log.Info("[GUARD] stop moved",
		zap.Int("slot", s.ID),
		zap.String("symbol", sym),
		zap.Float64("stop", stop),
		zap.String("status", string(upd.RiskStatus)),
	)
	if upd.RiskStatus == models.RiskFree && s.RiskStatus != models.RiskFree {
		a.notifier.Notify(ctx, "🛡 [%s] slot %d risk-free, SL=%.6g", sym, s.ID, stop)
	}
}
