package service

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"slot_trader/internal/models"
)

func ackError(op string, rows []ackRow) error {
	if len(rows) == 0 {
		return errors.Errorf("%s: empty data", op)
	}
	if rows[0].SCode != "" && rows[0].SCode != "0" {
		return errors.Errorf("%s rejected: sCode=%s sMsg=%s", op, rows[0].SCode, rows[0].SMsg)
	}
	return nil
}

func (c *Client) CancelAlgo(ctx context.Context, instID, algoID string) error {
	body := []map[string]string{{"instId": instID, "algoId": algoID}}
	rows, err := call[[]ackRow](ctx, c, "CancelAlgo", http.MethodPost, "/api/v5/trade/cancel-algos", body, true)
	if err != nil {
		return err
	}
	return ackError("CancelAlgo", rows)
}

// pendingStops: висящие условные ордера со стопом по инструменту.
func (c *Client) pendingStops(ctx context.Context, instID string) ([]algoPendingRow, error) {
	q := url.Values{}
	q.Set("ordType", "conditional,oco")
	q.Set("instType", "SWAP")
	q.Set("instId", instID)
	rows, err := call[[]algoPendingRow](ctx, c, "pendingStops", http.MethodGet,
		"/api/v5/trade/orders-algo-pending?"+q.Encode(), nil, true)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if r.SlTriggerPx != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// CloseMarket закрывает size контрактов рыночным reduce-only ордером.
func (c *Client) CloseMarket(ctx context.Context, inst models.Instrument, side models.Side, contracts float64) (string, error) {
	if contracts <= 0 {
		return "", errors.Wrap(models.ErrValidation, "CloseMarket: size <= 0")
	}

	body := map[string]any{
		"instId":     inst.Symbol,
		"tdMode":     "cross",
		"side":       closingSide(side),
		"posSide":    string(side),
		"ordType":    "market",
		"sz":         formatContracts(contracts, inst),
		"reduceOnly": true,
	}
	rows, err := call[[]ackRow](ctx, c, "CloseMarket", http.MethodPost, "/api/v5/trade/order", body, true)
	if err != nil {
		return "", err
	}
	if err := ackError("CloseMarket", rows); err != nil {
		return "", err
	}
	return rows[0].OrdID, nil
}

// closingSide: сторона ордера, закрывающего позицию.
func closingSide(s models.Side) string {
	if s == models.SideShort {
		return "buy"
	}
	return "sell"
}

func openingSide(s models.Side) string {
	if s == models.SideShort {
		return "sell"
	}
	return "buy"
}
