package service

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

// Balance: эквити USDT на торговом счёте.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	rows, err := call[[]balanceRow](ctx, c, "Balance", http.MethodGet, "/api/v5/account/balance?ccy=USDT", nil, true)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.New("Balance: empty data")
	}
	for _, d := range rows[0].Details {
		if d.Ccy != "USDT" {
			continue
		}
		eq, err := strconv.ParseFloat(d.Eq, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "Balance: eq %q", d.Eq)
		}
		return eq, nil
	}
	// счёт без USDT в details: берём общий эквити
	eq, err := strconv.ParseFloat(rows[0].TotalEq, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "Balance: totalEq %q", rows[0].TotalEq)
	}
	return eq, nil
}

// Positions: открытые USDT-SWAP позиции; размер переводится из контрактов в монету.
func (c *Client) Positions(ctx context.Context) (map[string]models.Position, error) {
	rows, err := call[[]positionRow](ctx, c, "Positions", http.MethodGet, "/api/v5/account/positions?instType=SWAP", nil, true)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.Position, len(rows))
	for _, r := range rows {
		pos, _ := strconv.ParseFloat(r.Pos, 64)
		if pos == 0 {
			continue
		}
		inst, err := c.Instrument(ctx, r.InstId)
		if err != nil {
			c.log.Warn("[OKX] position without instrument meta", zap.String("instId", r.InstId), zap.Error(err))
			continue
		}

		side := positionSide(r.PosSide, pos)
		avg, _ := strconv.ParseFloat(r.AvgPx, 64)
		upl, _ := strconv.ParseFloat(r.Upl, 64)
		lev, _ := strconv.ParseFloat(r.Lever, 64)
		liq, _ := strconv.ParseFloat(r.LiqPx, 64)
		margin, _ := strconv.ParseFloat(r.Margin, 64)

		sym := helper.NormalizeSymbol(r.InstId)
		out[sym] = models.Position{
			Symbol:        sym,
			Side:          side,
			Size:          toCoins(math.Abs(pos), inst),
			AvgPrice:      avg,
			UnrealizedPnL: upl,
			Leverage:      lev,
			LiqPrice:      liq,
			Margin:        margin,
		}
	}
	return out, nil
}

// positionSide: в режиме long/short сторона в posSide, в net-режиме: знак pos.
func positionSide(posSide string, pos float64) models.Side {
	switch posSide {
	case "long":
		return models.SideLong
	case "short":
		return models.SideShort
	}
	if pos < 0 {
		return models.SideShort
	}
	return models.SideLong
}

// ClosedPnL: реализованный PnL и цена выхода последней закрытой позиции по символу.
// ok=false, если истории по символу нет.
func (c *Client) ClosedPnL(ctx context.Context, symbol string) (float64, float64, bool, error) {
	instID := helper.NormalizeSymbol(symbol)
	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", instID)
	q.Set("limit", "1")
	rows, err := call[[]positionHistoryRow](ctx, c, "ClosedPnL", http.MethodGet,
		"/api/v5/account/positions-history?"+q.Encode(), nil, true)
	if err != nil {
		return 0, 0, false, err
	}
	if len(rows) == 0 {
		return 0, 0, false, nil
	}
	r := rows[0]
	pnl, err := strconv.ParseFloat(r.RealizedPnl, 64)
	if err != nil {
		pnl, err = strconv.ParseFloat(r.Pnl, 64)
		if err != nil {
			return 0, 0, false, nil
		}
	}
	exit, _ := strconv.ParseFloat(r.CloseAvgPx, 64)
	return pnl, exit, true, nil
}
