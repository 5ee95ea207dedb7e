// Package protocol: чистая машина состояний сопровождения позиции:
// OPEN_RISKY -> OPEN_RISK_FREE -> CLOSED(reason).
package protocol

import (
	"sort"

	"slot_trader/internal/models"
)

type State string

const (
	StateOpenRisky    State = "OPEN_RISKY"
	StateOpenRiskFree State = "OPEN_RISK_FREE"
	StateClosed       State = "CLOSED"
)

// Rung: ступень лестницы Trend: при ROI >= MinROI стоп ставится на StopROI.
type Rung struct {
	MinROI  float64 `mapstructure:"roi"`
	StopROI float64 `mapstructure:"stop"`
}

type Config struct {
	Leverage            float64 `mapstructure:"-"`
	BreakevenTriggerROI float64 `mapstructure:"breakeven_trigger_roi"`
	Ladder              []Rung  `mapstructure:"ladder"`
}

func DefaultLadder() []Rung {
	return []Rung{
		{MinROI: 10, StopROI: 0},
		{MinROI: 30, StopROI: 10},
		{MinROI: 50, StopROI: 25},
		{MinROI: 100, StopROI: 60},
		{MinROI: 200, StopROI: 140},
	}
}

type StopUpdate struct {
	Stop       float64
	RiskStatus models.RiskStatus
}

type Decision struct {
	State      State
	Close      bool
	Reason     models.CloseReason
	ROI        float64
	StopUpdate *StopUpdate
}

// ROI: доходность на маржу в процентах с учётом плеча.
func ROI(side models.Side, entry, price, leverage float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (price - entry) / entry * side.Sign() * 100 * leverage
}

// PriceAtROI: цена, при которой позиция даёт заданный ROI.
func PriceAtROI(side models.Side, entry, roi, leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	return entry * (1 + side.Sign()*roi/(leverage*100))
}

// StopHit: цена пересекла стоп против позиции.
func StopHit(side models.Side, stop, price float64) bool {
	if stop <= 0 {
		return false
	}
	if side == models.SideLong {
		return price <= stop
	}
	return price >= stop
}

// TargetHit: цена пересекла цель в пользу позиции.
func TargetHit(side models.Side, target, price float64) bool {
	if target <= 0 {
		return false
	}
	if side == models.SideLong {
		return price >= target
	}
	return price <= target
}

// Improves: новый стоп строго лучше старого (ближе к цене в сторону позиции).
func Improves(side models.Side, current, candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	if side == models.SideLong {
		return candidate > current
	}
	return candidate < current
}

// AtOrBeyondEntry: стоп уже защищает вход.
func AtOrBeyondEntry(side models.Side, entry, stop float64) bool {
	if stop <= 0 || entry <= 0 {
		return false
	}
	if side == models.SideLong {
		return stop >= entry
	}
	return stop <= entry
}

func StateOf(s models.Slot) State {
	if !s.Occupied() {
		return StateClosed
	}
	if s.RiskStatus == models.RiskFree || AtOrBeyondEntry(s.Side, s.EntryPrice, s.CurrentStop) {
		return StateOpenRiskFree
	}
	return StateOpenRisky
}

// Evaluate решает по одному тику. Скрытого состояния нет: обновлённый стоп
// сохраняет вызывающая сторона.
func Evaluate(cfg Config, s models.Slot, price float64) Decision {
	d := Decision{State: StateOf(s)}
	if !s.Occupied() || !s.Side.Valid() || s.EntryPrice <= 0 || price <= 0 {
		return d
	}
	d.ROI = ROI(s.Side, s.EntryPrice, price, cfg.Leverage)

	if StopHit(s.Side, s.CurrentStop, price) {
		d.Close, d.Reason, d.State = true, models.ReasonStopHit, StateClosed
		return d
	}

	switch s.Category {
	case models.CategoryTrend:
		if upd := trendStop(cfg, s, d.ROI); upd != nil {
			d.StopUpdate = upd
			if upd.RiskStatus == models.RiskFree {
				d.State = StateOpenRiskFree
			}
		}
	default:
		if TargetHit(s.Side, s.TargetPrice, price) {
			d.Close, d.Reason, d.State = true, models.ReasonTargetReached, StateClosed
			return d
		}
		if cfg.BreakevenTriggerROI > 0 && d.ROI >= cfg.BreakevenTriggerROI &&
			!AtOrBeyondEntry(s.Side, s.EntryPrice, s.CurrentStop) {
			d.StopUpdate = &StopUpdate{Stop: s.EntryPrice, RiskStatus: models.RiskFree}
			d.State = StateOpenRiskFree
		}
	}
	return d
}

func trendStop(cfg Config, s models.Slot, roi float64) *StopUpdate {
	rung, ok := RungFor(cfg.Ladder, roi)
	if !ok {
		return nil
	}
	candidate := PriceAtROI(s.Side, s.EntryPrice, rung.StopROI, cfg.Leverage)
	if !Improves(s.Side, s.CurrentStop, candidate) {
		return nil
	}
	status := models.RiskBearing
	if AtOrBeyondEntry(s.Side, s.EntryPrice, candidate) {
		status = models.RiskFree
	}
	return &StopUpdate{Stop: candidate, RiskStatus: status}
}

// RungFor: самая высокая ступень, до которой дотянулся ROI.
func RungFor(ladder []Rung, roi float64) (Rung, bool) {
	sorted := make([]Rung, len(ladder))
	copy(sorted, ladder)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinROI < sorted[j].MinROI })

	var (
		best Rung
		ok   bool
	)
	for _, r := range sorted {
		if roi >= r.MinROI {
			best, ok = r, true
		}
	}
	return best, ok
}
