package models

import "time"

// Instrument: метаданные контракта. Количества в базовой монете:
// QtyStep = lotSz*ctVal.
type Instrument struct {
	Symbol        string
	QtyStep       float64
	MinQty        float64
	TickSize      float64
	ContractValue float64
	LotSize       float64 // шаг в контрактах
}

// Position: открытая позиция на бирже (или в paper-движке).
type Position struct {
	Symbol        string
	Side          Side
	Size          float64 // в базовой монете
	AvgPrice      float64
	UnrealizedPnL float64
	Leverage      float64
	LiqPrice      float64
	Margin        float64
}

// TradePrint: сделка из публичного потока.
type TradePrint struct {
	Symbol string
	Side   Side // сторона агрессора: long = buy, short = sell
	Price  float64
	Size   float64 // в базовой монете
	At     time.Time
}

func (t TradePrint) SignedNotional() float64 {
	return t.Side.Sign() * t.Price * t.Size
}

type Ticker struct {
	Symbol    string
	Last      float64
	Turnover  float64 // 24h, в quote
	UpdatedAt time.Time
}

type Candle struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Start  time.Time
}

func (c Candle) Bullish() bool { return c.Close > c.Open }
func (c Candle) Bearish() bool { return c.Close < c.Open }
