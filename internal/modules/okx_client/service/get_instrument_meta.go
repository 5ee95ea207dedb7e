package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

// Instrument: метаданные контракта в базовой монете (lotSz*ctVal). Кэшируются навсегда:
// шаги контрактов OKX меняются редко, а при смене ордер просто будет отклонён.
func (c *Client) Instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	instID := helper.NormalizeSymbol(symbol)

	c.instMu.RLock()
	inst, ok := c.instruments[instID]
	c.instMu.RUnlock()
	if ok {
		return inst, nil
	}

	rows, err := call[[]instrumentRow](ctx, c, "Instrument", http.MethodGet,
		"/api/v5/public/instruments?instType=SWAP&instId="+url.QueryEscape(instID), nil, false)
	if err != nil {
		return models.Instrument{}, err
	}
	if len(rows) == 0 {
		return models.Instrument{}, errors.Wrapf(models.ErrValidation, "instrument %s not found", instID)
	}
	inst, err = parseInstrument(rows[0])
	if err != nil {
		return models.Instrument{}, err
	}

	c.instMu.Lock()
	c.instruments[instID] = inst
	c.instMu.Unlock()
	return inst, nil
}

func parseInstrument(row instrumentRow) (models.Instrument, error) {
	if row.State != "" && row.State != "live" {
		return models.Instrument{}, errors.Wrapf(models.ErrValidation, "instrument %s not live: state=%s", row.InstID, row.State)
	}
	if ct := strings.ToLower(strings.TrimSpace(row.CtType)); ct != "" && ct != "linear" {
		return models.Instrument{}, errors.Wrapf(models.ErrValidation, "instrument %s: only linear swaps, got %s", row.InstID, ct)
	}

	parsePos := func(name, s string) (float64, error) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return 0, errors.Wrapf(models.ErrValidation, "instrument %s: %s=%q", row.InstID, name, s)
		}
		return v, nil
	}

	lotSz, err := parsePos("lotSz", row.LotSz)
	if err != nil {
		return models.Instrument{}, err
	}
	minSz, err := parsePos("minSz", row.MinSz)
	if err != nil {
		return models.Instrument{}, err
	}
	tickSz, err := parsePos("tickSz", row.TickSz)
	if err != nil {
		return models.Instrument{}, err
	}
	ctVal, err := parsePos("ctVal", row.CtVal)
	if err != nil {
		return models.Instrument{}, err
	}
	if row.CtMult != "" {
		if m, e := strconv.ParseFloat(row.CtMult, 64); e == nil && m > 0 {
			ctVal *= m
		}
	}

	ct := decimal.NewFromFloat(ctVal)
	qtyStep, _ := decimal.NewFromFloat(lotSz).Mul(ct).Float64()
	minQty, _ := decimal.NewFromFloat(minSz).Mul(ct).Float64()

	return models.Instrument{
		Symbol:        row.InstID,
		QtyStep:       qtyStep,
		MinQty:        minQty,
		TickSize:      tickSz,
		ContractValue: ctVal,
		LotSize:       lotSz,
	}, nil
}

// toContracts переводит количество в монете в контракты, вниз к lotSz.
func toContracts(qty float64, inst models.Instrument) float64 {
	if inst.ContractValue <= 0 {
		return 0
	}
	c, _ := decimal.NewFromFloat(qty).Div(decimal.NewFromFloat(inst.ContractValue)).Float64()
	return helper.RoundDownToStep(c, inst.LotSize)
}

// toCoins: обратно: контракты в монету.
func toCoins(contracts float64, inst models.Instrument) float64 {
	v, _ := decimal.NewFromFloat(contracts).Mul(decimal.NewFromFloat(inst.ContractValue)).Float64()
	return v
}

func formatContracts(contracts float64, inst models.Instrument) string {
	return helper.FormatStep(contracts, inst.LotSize)
}

func formatPrice(px float64, inst models.Instrument) string {
	return helper.FormatStep(helper.RoundToTick(px, inst.TickSize), inst.TickSize)
}
