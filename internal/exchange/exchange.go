// Package exchange описывает поверхность исполнения, общую для живой биржи и paper-движка.
// Реализация выбирается один раз при старте.
package exchange

import (
	"context"

	"slot_trader/internal/models"
)

// Executor: место, куда уходят ордера: OKX или paper-движок.
type Executor interface {
	// Positions: открытые позиции, ключ: нормализованный символ.
	Positions(ctx context.Context) (map[string]models.Position, error)
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string, side models.Side, qty float64) (models.CloseResult, error)
	SetStop(ctx context.Context, symbol string, side models.Side, qty, stop float64) error
	Balance(ctx context.Context) (float64, error)
	// ClosedPnL: реализованный PnL последней закрытой позиции по символу.
	ClosedPnL(ctx context.Context, symbol string) (pnl float64, exit float64, ok bool, err error)
	SafeMode() bool
}

// MarketData: цены и метаданные инструментов.
type MarketData interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
	LastPrices(ctx context.Context, symbols []string) (map[string]float64, error)
	Instrument(ctx context.Context, symbol string) (models.Instrument, error)
}

// CandleSource: исторические свечи для скоринга.
type CandleSource interface {
	Candles(ctx context.Context, symbol, bar string, limit int) ([]models.Candle, error)
}
