package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

func (c *Client) writable(op string) error {
	if c.SafeMode() {
		return errors.Wrap(models.ErrSafeMode, op)
	}
	return nil
}

// SetLeverage: плечо для стороны позиции в cross-режиме.
func (c *Client) SetLeverage(ctx context.Context, instID string, side models.Side) error {
	body := map[string]string{
		"instId":  instID,
		"lever":   strconv.FormatFloat(c.leverage, 'f', -1, 64),
		"mgnMode": "cross",
		"posSide": string(side),
	}
	_, err := call[[]struct {
		Lever string `json:"lever"`
	}](ctx, c, "SetLeverage", http.MethodPost, "/api/v5/account/set-leverage", body, true)
	return err
}

// PlaceOrder: рыночный вход с прикреплёнными SL и (для Fast) TP. Количество в монете,
// на бирже уходит в контрактах вниз к lotSz.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	if err := c.writable("PlaceOrder"); err != nil {
		return models.OrderResult{}, err
	}
	if !req.Side.Valid() {
		return models.OrderResult{}, errors.Wrapf(models.ErrValidation, "PlaceOrder: side=%q", req.Side)
	}
	inst, err := c.Instrument(ctx, req.Symbol)
	if err != nil {
		return models.OrderResult{}, err
	}
	contracts := toContracts(req.Quantity, inst)
	if contracts <= 0 {
		return models.OrderResult{}, errors.Wrapf(models.ErrValidation, "PlaceOrder %s: qty %v below one lot", inst.Symbol, req.Quantity)
	}

	if c.leverage > 0 {
		if err := c.SetLeverage(ctx, inst.Symbol, req.Side); err != nil {
			c.log.Warn("[OKX] set leverage failed", zap.String("instId", inst.Symbol), zap.Error(err))
		}
	}

	body := map[string]any{
		"instId":  inst.Symbol,
		"tdMode":  "cross",
		"side":    openingSide(req.Side),
		"posSide": string(req.Side),
		"ordType": "market",
		"sz":      formatContracts(contracts, inst),
	}
	algo := map[string]string{}
	if req.StopLoss > 0 {
		algo["slTriggerPx"] = formatPrice(req.StopLoss, inst)
		algo["slOrdPx"] = "-1"
		algo["slTriggerPxType"] = "last"
	}
	if req.TakeProfit > 0 {
		algo["tpTriggerPx"] = formatPrice(req.TakeProfit, inst)
		algo["tpOrdPx"] = "-1"
		algo["tpTriggerPxType"] = "last"
	}
	if len(algo) > 0 {
		body["attachAlgoOrds"] = []map[string]string{algo}
	}

	rows, err := call[[]ackRow](ctx, c, "PlaceOrder", http.MethodPost, "/api/v5/trade/order", body, true)
	if err != nil {
		return models.OrderResult{}, err
	}
	if err := ackError("PlaceOrder", rows); err != nil {
		return models.OrderResult{}, err
	}

	res := models.OrderResult{
		OrderID:  rows[0].OrdID,
		Symbol:   inst.Symbol,
		Quantity: toCoins(contracts, inst),
		PlacedAt: c.clock.Now(),
	}
	if px, err := c.fillPrice(ctx, inst.Symbol, res.OrderID); err == nil {
		res.AvgPrice = px
	} else {
		c.log.Debug("[OKX] fill price unavailable", zap.String("ordId", res.OrderID), zap.Error(err))
	}
	return res, nil
}

// fillPrice: средняя цена исполнения ордера; 0 без ошибки, если ещё не исполнен.
func (c *Client) fillPrice(ctx context.Context, instID, ordID string) (float64, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("ordId", ordID)
	rows, err := call[[]struct {
		AvgPx string `json:"avgPx"`
	}](ctx, c, "fillPrice", http.MethodGet, "/api/v5/trade/order?"+q.Encode(), nil, true)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || rows[0].AvgPx == "" {
		return 0, nil
	}
	px, err := strconv.ParseFloat(rows[0].AvgPx, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "fillPrice: avgPx %q", rows[0].AvgPx)
	}
	return px, nil
}

// ClosePosition закрывает qty (в монете) рыночным reduce-only ордером.
// PnL берётся из истории позиций; если биржа ещё не отдала запись, Known=false.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side models.Side, qty float64) (models.CloseResult, error) {
	if err := c.writable("ClosePosition"); err != nil {
		return models.CloseResult{}, err
	}
	inst, err := c.Instrument(ctx, symbol)
	if err != nil {
		return models.CloseResult{}, err
	}
	contracts := toContracts(qty, inst)
	if contracts <= 0 {
		// остаток меньше лота: закрываем минимальным лотом, reduceOnly не даст перевернуться
		contracts = inst.LotSize
	}

	ordID, err := c.CloseMarket(ctx, inst, side, contracts)
	if err != nil {
		return models.CloseResult{}, err
	}

	res := models.CloseResult{OrderID: ordID, Symbol: inst.Symbol, Quantity: toCoins(contracts, inst)}
	if pnl, exit, ok, err := c.ClosedPnL(ctx, inst.Symbol); err == nil && ok {
		res.PnL, res.ExitPrice, res.Known = pnl, exit, true
	}
	if res.ExitPrice <= 0 {
		if px, err := c.fillPrice(ctx, inst.Symbol, ordID); err == nil {
			res.ExitPrice = px
		}
	}
	c.log.Info("[OKX] position closed",
		zap.String("instId", inst.Symbol),
		zap.String("side", string(side)),
		zap.Float64("qty", res.Quantity),
		zap.Float64("exit", res.ExitPrice),
		zap.Bool("pnl_known", res.Known),
	)
	return res, nil
}

// SetStop переставляет стоп: снимает висящие SL по инструменту и ставит новый.
func (c *Client) SetStop(ctx context.Context, symbol string, side models.Side, qty, stop float64) error {
	if err := c.writable("SetStop"); err != nil {
		return err
	}
	inst, err := c.Instrument(ctx, symbol)
	if err != nil {
		return err
	}
	contracts := toContracts(qty, inst)
	if contracts <= 0 {
		return errors.Wrapf(models.ErrValidation, "SetStop %s: qty %v below one lot", inst.Symbol, qty)
	}

	pending, err := c.pendingStops(ctx, inst.Symbol)
	if err != nil {
		return errors.Wrap(err, "SetStop: pending")
	}
	for _, p := range pending {
		if p.PosSide != "" && p.PosSide != string(side) {
			continue
		}
		if err := c.CancelAlgo(ctx, inst.Symbol, p.AlgoId); err != nil {
			c.log.Warn("[OKX] cancel stale stop failed", zap.String("algoId", p.AlgoId), zap.Error(err))
		}
	}

	algoID, err := c.PlaceSingleAlgo(ctx, inst, side, contracts, stop, false)
	if err != nil {
		return errors.Wrap(err, "SetStop")
	}
	c.log.Info("[OKX] stop moved",
		zap.String("instId", inst.Symbol),
		zap.String("stop", helper.FormatStep(stop, inst.TickSize)),
		zap.String("algoId", algoID),
	)
	return nil
}
