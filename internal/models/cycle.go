package models

import "time"

// UsedSymbol: символ, вошедший в сделку с порядковым номером Index внутри цикла.
type UsedSymbol struct {
	Symbol string `json:"symbol"`
	Index  int    `json:"index"`
}

type Cycle struct {
	Number         int          `json:"cycle_number"`
	TradeCount     int          `json:"trade_count"`
	WinCount       int          `json:"win_count"`
	LossCount      int          `json:"loss_count"`
	NetProfit      float64      `json:"net_profit"`
	UsedSymbols    []UsedSymbol `json:"used_symbols"`
	StartBankroll  float64      `json:"start_bankroll"`
	PerTradeMargin float64      `json:"per_trade_margin"`

	DragMode     bool      `json:"drag_mode"`
	CautiousMode bool      `json:"cautious_mode"`
	RestUntil    time.Time `json:"rest_until"`
	VaultTotal   float64   `json:"vault_total"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NextIndex: индекс следующей сделки цикла (с 1).
func (c Cycle) NextIndex() int { return c.TradeCount + 1 }

// WithUsed возвращает копию истории с добавленной записью, исходный срез не трогаем.
func (c Cycle) WithUsed(symbol string) []UsedSymbol {
	out := make([]UsedSymbol, 0, len(c.UsedSymbols)+1)
	out = append(out, c.UsedSymbols...)
	return append(out, UsedSymbol{Symbol: symbol, Index: c.NextIndex()})
}

type BankrollStatus struct {
	Balance       float64   `json:"balance"`
	RealRisk      float64   `json:"real_risk"`
	OccupiedSlots int       `json:"occupied_slots"`
	RiskFreeSlots int       `json:"risk_free_slots"`
	SafeMode      bool      `json:"safe_mode"`
	Mode          Mode      `json:"mode"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)
