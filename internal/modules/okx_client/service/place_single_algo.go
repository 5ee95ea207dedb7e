package service

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"slot_trader/internal/models"
)

// PlaceSingleAlgo ставит одиночный условный SL или TP на contracts контрактов; возвращает algoId.
func (c *Client) PlaceSingleAlgo(
	ctx context.Context,
	inst models.Instrument,
	side models.Side,
	contracts float64,
	triggerPx float64,
	isTP bool,
) (string, error) {
	if !side.Valid() {
		return "", errors.Wrapf(models.ErrValidation, "PlaceSingleAlgo: unsupported side=%q", side)
	}
	if contracts <= 0 {
		return "", errors.Wrap(models.ErrValidation, "PlaceSingleAlgo: size <= 0")
	}
	if triggerPx <= 0 {
		return "", errors.Wrap(models.ErrValidation, "PlaceSingleAlgo: triggerPx <= 0")
	}

	body := map[string]any{
		"instId":     inst.Symbol,
		"tdMode":     "cross",
		"side":       closingSide(side),
		"posSide":    string(side),
		"ordType":    "conditional",
		"sz":         formatContracts(contracts, inst),
		"reduceOnly": true,
	}
	if isTP {
		body["tpTriggerPx"] = formatPrice(triggerPx, inst)
		body["tpOrdPx"] = "-1"
		body["tpTriggerPxType"] = "last"
	} else {
		body["slTriggerPx"] = formatPrice(triggerPx, inst)
		body["slOrdPx"] = "-1"
		body["slTriggerPxType"] = "last"
	}

	rows, err := call[[]ackRow](ctx, c, "PlaceSingleAlgo", http.MethodPost, "/api/v5/trade/order-algo", body, true)
	if err != nil {
		return "", err
	}
	if err := ackError("PlaceSingleAlgo", rows); err != nil {
		return "", err
	}
	if rows[0].AlgoId == "" {
		return "", errors.New("PlaceSingleAlgo: empty algoId")
	}
	return rows[0].AlgoId, nil
}
