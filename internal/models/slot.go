package models

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

type Side string

const (
	SideNone  Side = ""
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Sign: +1 для long, -1 для short, 0 если сторона неизвестна.
func (s Side) Sign() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	}
	return 0
}

func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	}
	return SideNone
}

type Category string

const (
	CategoryFast  Category = "fast"
	CategoryTrend Category = "trend"
)

type RiskStatus string

const (
	RiskBearing RiskStatus = "risk_bearing"
	RiskFree    RiskStatus = "risk_free"
	// Recovered: позиция найдена на бирже без слота и подобрана сверкой.
	Recovered RiskStatus = "recovered"
)

// Slot: документ слота в хранилище. Пустой слот: Symbol == "".
type Slot struct {
	ID          int        `json:"id"`
	Symbol      string     `json:"symbol,omitempty"`
	Side        Side       `json:"side,omitempty"`
	EntryPrice  float64    `json:"entry_price"`
	CurrentStop float64    `json:"current_stop"`
	TargetPrice float64    `json:"target_price"` // 0: цели нет
	Quantity    float64    `json:"quantity"`
	Category    Category   `json:"category,omitempty"`
	RiskStatus  RiskStatus `json:"risk_status,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (s Slot) Occupied() bool { return s.Symbol != "" }

// CountsAsRisk: слот занимает маржу под риском. Recovered считаем рисковым,
// пока протокол не подтвердит безубыток.
func (s Slot) CountsAsRisk() bool {
	return s.Occupied() && (s.RiskStatus == RiskBearing || s.RiskStatus == Recovered || s.RiskStatus == "")
}

// SlotUpdate: частичная запись (merge) в документ слота.
// nil-значение очищает поле.
type SlotUpdate map[string]any

func SlotOccupied(s Slot) SlotUpdate {
	return SlotUpdate{
		"symbol":       s.Symbol,
		"side":         s.Side,
		"entry_price":  s.EntryPrice,
		"current_stop": s.CurrentStop,
		"target_price": s.TargetPrice,
		"quantity":     s.Quantity,
		"category":     s.Category,
		"risk_status":  s.RiskStatus,
		"opened_at":    s.OpenedAt,
		"updated_at":   s.UpdatedAt,
	}
}

func SlotCleared(now time.Time) SlotUpdate {
	return SlotUpdate{
		"symbol":       nil,
		"side":         nil,
		"entry_price":  0,
		"current_stop": 0,
		"target_price": 0,
		"quantity":     0,
		"category":     nil,
		"risk_status":  nil,
		"opened_at":    nil,
		"updated_at":   now,
	}
}

func SlotStopMoved(stop float64, status RiskStatus, now time.Time) SlotUpdate {
	return SlotUpdate{
		"current_stop": stop,
		"risk_status":  status,
		"updated_at":   now,
	}
}

// Apply накладывает частичную запись на слот так же, как это делает jsonb || в хранилище.
func (s Slot) Apply(u SlotUpdate) (Slot, error) {
	raw, err := sonic.Marshal(s)
	if err != nil {
		return s, errors.Wrap(err, "Slot.Apply marshal")
	}
	doc := map[string]any{}
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return s, errors.Wrap(err, "Slot.Apply decode")
	}
	for k, v := range u {
		doc[k] = v
	}
	merged, err := sonic.Marshal(doc)
	if err != nil {
		return s, errors.Wrap(err, "Slot.Apply merge")
	}
	var out Slot
	if err := sonic.Unmarshal(merged, &out); err != nil {
		return s, errors.Wrap(err, "Slot.Apply unmarshal")
	}
	out.ID = s.ID
	return out, nil
}

// SlotRange: диапазон id слотов категории, включительно.
type SlotRange struct {
	From int `mapstructure:"from"`
	To   int `mapstructure:"to"`
}

func (r SlotRange) Contains(id int) bool { return id >= r.From && id <= r.To }

type PendingReservation struct {
	Symbol string
	SlotID int
}
