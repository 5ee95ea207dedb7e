package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
	"slot_trader/internal/protocol"
)

// Tick: один проход: одна пачка цен на все открытые символы, решение протокола по каждой позиции.
func (e *Engine) Tick(ctx context.Context) error {
	open := e.open()
	if len(open) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(open))
	for _, p := range open {
		symbols = append(symbols, p.Symbol)
	}
	prices, err := e.market.LastPrices(ctx, symbols)
	if err != nil {
		return errors.Wrap(err, "paper tick: prices")
	}

	for _, p := range open {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			continue
		}
		d := protocol.Evaluate(e.proto, p.AsSlot(), price)
		switch {
		case d.Close:
			closed, ok := e.settle(p.Symbol, price, d.Reason, true)
			if !ok {
				continue
			}
			rec := models.TradeRecord{
				SlotID:     p.SlotID,
				Symbol:     p.Symbol,
				Side:       p.Side,
				Category:   p.Category,
				EntryPrice: p.AvgEntryPrice,
				ExitPrice:  price,
				Quantity:   p.Quantity,
				PnL:        closed.PnL,
				Reason:     d.Reason,
				Mode:       models.ModePaper,
				OpenedAt:   p.OpenedAt,
				ClosedAt:   closed.ClosedAt,
			}
			select {
			case e.out <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		case d.StopUpdate != nil:
			e.moveStop(ctx, p, *d.StopUpdate)
		}
	}
	return nil
}

func (e *Engine) moveStop(ctx context.Context, p models.SimPosition, upd protocol.StopUpdate) {
	stop := upd.Stop
	if inst, err := e.market.Instrument(ctx, p.Symbol); err == nil {
		stop = helper.RoundToTick(stop, inst.TickSize)
	}
	if !protocol.Improves(p.Side, p.CurrentStop, stop) {
		return
	}

	e.mu.Lock()
	cur, ok := e.positions[p.Symbol]
	if ok {
		cur.CurrentStop = stop
		cur.RiskStatus = upd.RiskStatus
		e.persistLocked()
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	if err := e.slots.UpdateSlot(ctx, p.SlotID, models.SlotStopMoved(stop, upd.RiskStatus, e.now())); err != nil {
		e.log.Warn("[PAPER] slot stop write failed", zap.String("symbol", p.Symbol), zap.Int("slot", p.SlotID), zap.Error(err))
		return
	}
	e.log.Info("[PAPER] stop moved",
		zap.String("symbol", p.Symbol),
		zap.Float64("stop", stop),
		zap.String("status", string(upd.RiskStatus)),
	)
}

// Run крутит Tick с интервалом конфига до отмены ctx.
func (e *Engine) Run(ctx context.Context) {
	helper.RunEvery(ctx, e.log, "paper_tick", e.cfg.Interval, e.Tick)
}
