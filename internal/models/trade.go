package models

import "time"

type CloseReason string

const (
	ReasonStopHit        CloseReason = "STOP_HIT"
	ReasonTargetReached  CloseReason = "TARGET_REACHED"
	ReasonExchangeSync   CloseReason = "EXCHANGE_SYNC"
	ReasonEmergencyClose CloseReason = "EMERGENCY_CLOSE"
	ReasonManual         CloseReason = "MANUAL"
)

// TradeRecord: запись о закрытой сделке (история + вход для CycleVault).
type TradeRecord struct {
	SlotID     int         `json:"slot_id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Category   Category    `json:"category"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	Quantity   float64     `json:"quantity"`
	PnL        float64     `json:"pnl"`
	Reason     CloseReason `json:"reason"`
	Mode       Mode        `json:"mode"`
	OpenedAt   time.Time   `json:"opened_at"`
	ClosedAt   time.Time   `json:"closed_at"`
}

type OrderRequest struct {
	Symbol     string
	Side       Side
	Quantity   float64
	StopLoss   float64
	TakeProfit float64 // 0: без тейка
	Category   Category
	SlotID     int
}

type OrderResult struct {
	OrderID   string
	Symbol    string
	AvgPrice  float64 // 0 если биржа не вернула цену исполнения
	Quantity  float64
	PlacedAt  time.Time
	Simulated bool
}

type CloseResult struct {
	OrderID   string
	Symbol    string
	ExitPrice float64
	Quantity  float64
	PnL       float64
	Known     bool // PnL посчитан (paper) или получен с биржи
}

// Admission: итог попытки открыть позицию. Отказ по ёмкости: штатный исход.
type Admission struct {
	Admitted bool
	SlotID   int
	Symbol   string
	Reason   string
	Quantity float64
	Entry    float64
	Stop     float64
	Target   float64
}

// SimPosition: позиция paper-движка.
type SimPosition struct {
	OrderID       string     `yaml:"order_id"`
	SlotID        int        `yaml:"slot_id"`
	Symbol        string     `yaml:"symbol"`
	Side          Side       `yaml:"side"`
	Quantity      float64    `yaml:"quantity"`
	EntryPrice    float64    `yaml:"entry_price"`
	AvgEntryPrice float64    `yaml:"avg_entry_price"`
	CurrentStop   float64    `yaml:"current_stop"`
	TargetPrice   float64    `yaml:"target_price"`
	Category      Category   `yaml:"category"`
	RiskStatus    RiskStatus `yaml:"risk_status"`
	OpenedAt      time.Time  `yaml:"opened_at"`
}

// AsSlot: представление позиции в виде слота для протокола исполнения.
func (p SimPosition) AsSlot() Slot {
	return Slot{
		ID:          p.SlotID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		EntryPrice:  p.AvgEntryPrice,
		CurrentStop: p.CurrentStop,
		TargetPrice: p.TargetPrice,
		Quantity:    p.Quantity,
		Category:    p.Category,
		RiskStatus:  p.RiskStatus,
		OpenedAt:    p.OpenedAt,
	}
}

type ClosedOrder struct {
	OrderID    string      `yaml:"order_id"`
	Symbol     string      `yaml:"symbol"`
	Side       Side        `yaml:"side"`
	Quantity   float64     `yaml:"quantity"`
	EntryPrice float64     `yaml:"entry_price"`
	ExitPrice  float64     `yaml:"exit_price"`
	PnL        float64     `yaml:"pnl"`
	Reason     CloseReason `yaml:"reason"`
	ClosedAt   time.Time   `yaml:"closed_at"`
}
