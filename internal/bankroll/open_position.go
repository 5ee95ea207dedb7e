package bankroll

import (
	"context"
	"math"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/metrics"
	"slot_trader/internal/models"
)

type OpenRequest struct {
	Symbol   string
	Side     models.Side
	Category models.Category
	StopHint float64
	// TargetHint учитывается только для Fast
	TargetHint float64
}

// OpenPosition: допуск под мьютексом, дальше весь I/O вне критической секции.
// Резерв снимается на любом выходе.
func (a *Allocator) OpenPosition(ctx context.Context, req OpenRequest) (models.Admission, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "bankroll.OpenPosition")
	defer span.Finish()

	symbol := helper.NormalizeSymbol(req.Symbol)
	span.SetTag("symbol", symbol)
	cat := req.Category
	if cat != models.CategoryTrend {
		cat = models.CategoryFast
	}

	if symbol == "" || !req.Side.Valid() {
		metrics.Admissions.WithLabelValues("failed", string(cat)).Inc()
		return models.Admission{Symbol: symbol, Reason: "invalid request"},
			errors.Wrapf(models.ErrValidation, "OpenPosition: symbol=%q side=%q", req.Symbol, req.Side)
	}
	if a.exec.SafeMode() {
		metrics.Admissions.WithLabelValues("denied", string(cat)).Inc()
		return models.Admission{Symbol: symbol, Reason: "safe mode"}, nil
	}

	slotID, reason := a.reserve(ctx, symbol, cat)
	if slotID == 0 {
		metrics.Admissions.WithLabelValues("denied", string(cat)).Inc()
		a.log.Debug("[ALLOC] denied", zap.String("symbol", symbol), zap.String("reason", reason))
		return models.Admission{Symbol: symbol, Reason: reason}, nil
	}
	defer a.pending.Remove(symbol, slotID)

	adm, err := a.execute(ctx, slotID, symbol, cat, req)
	switch {
	case err != nil:
		metrics.Admissions.WithLabelValues("failed", string(cat)).Inc()
		a.log.Warn("[ALLOC] open failed", zap.String("symbol", symbol), zap.Int("slot", slotID), zap.Error(err))
	case adm.Admitted:
		metrics.Admissions.WithLabelValues("admitted", string(cat)).Inc()
	default:
		metrics.Admissions.WithLabelValues("denied", string(cat)).Inc()
	}
	return adm, err
}

func (a *Allocator) reserve(ctx context.Context, symbol string, cat models.Category) (int, string) {
	a.admitMu.Lock()
	defer a.admitMu.Unlock()

	// хранилище отдаёт последний снимок, если недоступно
	slots, err := a.store.Slots(ctx)
	if err != nil && len(slots) == 0 {
		return 0, "slots unavailable"
	}
	id, reason := a.canOpen(slots, symbol, cat)
	if id == 0 {
		return 0, reason
	}
	a.pending.Add(symbol, id)
	return id, ""
}

func (a *Allocator) execute(ctx context.Context, slotID int, symbol string, cat models.Category, req OpenRequest) (models.Admission, error) {
	adm := models.Admission{SlotID: slotID, Symbol: symbol}

	price, err := a.market.LastPrice(ctx, symbol)
	if err != nil {
		adm.Reason = "price unavailable"
		return adm, errors.Wrap(err, "execute: last price")
	}
	if price <= 0 || math.IsNaN(price) {
		adm.Reason = "bad price"
		return adm, errors.Wrapf(models.ErrValidation, "execute: price=%v", price)
	}
	inst, err := a.market.Instrument(ctx, symbol)
	if err != nil {
		adm.Reason = "instrument unavailable"
		return adm, errors.Wrap(err, "execute: instrument")
	}
	if inst.QtyStep <= 0 {
		adm.Reason = "no qty precision"
		return adm, errors.Wrapf(models.ErrValidation, "execute: qty step %v for %s", inst.QtyStep, symbol)
	}

	balance, err := a.sizingBalance(ctx)
	if err != nil {
		adm.Reason = "balance unavailable"
		return adm, errors.Wrap(err, "execute: balance")
	}
	if balance < a.cfg.MinBalance {
		adm.Reason = "balance below minimum"
		return adm, nil
	}

	qty := a.quantity(balance, price, inst)
	stop, target := a.protectiveLevels(req, cat, price, inst.TickSize)

	order, err := a.exec.PlaceOrder(ctx, models.OrderRequest{
		Symbol:     symbol,
		Side:       req.Side,
		Quantity:   qty,
		StopLoss:   stop,
		TakeProfit: target,
		Category:   cat,
		SlotID:     slotID,
	})
	if err != nil {
		adm.Reason = "order rejected"
		return adm, errors.Wrap(err, "execute: place order")
	}

	entry := price
	if order.AvgPrice > 0 {
		entry = order.AvgPrice
	}
	if order.Quantity > 0 {
		qty = order.Quantity
	}
	now := a.now()
	slot := models.Slot{
		ID:          slotID,
		Symbol:      symbol,
		Side:        req.Side,
		EntryPrice:  entry,
		CurrentStop: stop,
		TargetPrice: target,
		Quantity:    qty,
		Category:    cat,
		RiskStatus:  models.RiskBearing,
		OpenedAt:    now,
		UpdatedAt:   now,
	}
	if err := a.store.UpdateSlot(ctx, slotID, models.SlotOccupied(slot)); err != nil {
		// ордер на бирже есть, слот не записан: позицию подберёт сверка как Recovered
		adm.Reason = "slot persist failed"
		return adm, errors.Wrapf(models.ErrInconsistent, "execute: persist slot %d: %v", slotID, err)
	}

	if _, err := a.RefreshStatus(ctx); err != nil {
		a.log.Warn("[ALLOC] status refresh failed", zap.Error(err))
	}

	a.log.Info("[ALLOC] position opened",
		zap.Int("slot", slotID),
		zap.String("symbol", symbol),
		zap.String("side", string(req.Side)),
		zap.String("category", string(cat)),
		zap.Float64("qty", qty),
		zap.Float64("entry", entry),
		zap.Float64("stop", stop),
		zap.Float64("target", target),
	)
	a.notifier.Notify(ctx, "🟢 [%s] slot %d %s %s qty=%s entry=%.6g SL=%.6g TP=%.6g",
		symbol, slotID, cat, req.Side, helper.FormatStep(qty, inst.QtyStep), entry, stop, target)

	adm.Admitted = true
	adm.Quantity, adm.Entry, adm.Stop, adm.Target = qty, entry, stop, target
	return adm, nil
}

// sizingBalance: заданный в конфиге баланс важнее биржевого.
func (a *Allocator) sizingBalance(ctx context.Context) (float64, error) {
	if a.cfg.ConfiguredBalance > 0 {
		return a.cfg.ConfiguredBalance, nil
	}
	return a.exec.Balance(ctx)
}

// quantity = маржа * плечо / цена, вниз к шагу, но никогда не ноль.
func (a *Allocator) quantity(balance, price float64, inst models.Instrument) float64 {
	margin := balance * a.cfg.MarginPerSlot
	if m := a.margin.PerTradeMargin(); m > 0 && m <= balance {
		margin = m
	}
	lev := a.cfg.Leverage
	if lev <= 0 {
		lev = 1
	}

	qty := helper.RoundDownToStep(margin*lev/price, inst.QtyStep)
	if qty <= 0 {
		qty = inst.QtyStep
	}
	if inst.MinQty > 0 && qty < inst.MinQty {
		qty = helper.RoundUpToStep(inst.MinQty, inst.QtyStep)
	}
	return qty
}

// protectiveLevels: стоп по проценту категории (или подсказке), тейк только для Fast.
// Стоп не на той стороне цены пересчитывается от цены.
func (a *Allocator) protectiveLevels(req OpenRequest, cat models.Category, price, tick float64) (stop, target float64) {
	sign := req.Side.Sign()
	pctStop := price * (1 - sign*a.cfg.stopPct(cat)/100)

	stop = req.StopHint
	if stop <= 0 {
		stop = pctStop
	}
	if (sign > 0 && stop >= price) || (sign < 0 && stop <= price) {
		stop = pctStop
	}
	stop = helper.RoundToTick(stop, tick)

	if cat != models.CategoryFast {
		return stop, 0
	}
	target = req.TargetHint
	if target <= 0 || (sign > 0 && target <= price) || (sign < 0 && target >= price) {
		target = price * (1 + sign*a.cfg.FastTargetPct/100)
	}
	return stop, helper.RoundToTick(target, tick)
}
