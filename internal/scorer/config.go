// Package scorer считает составной балл входа по потоку сделок, моментуму,
// тренду старшего ТФ и свечным паттернам.
package scorer

import "time"

type Config struct {
	BufferSize int     `mapstructure:"buffer_size"`
	FlowScale  float64 `mapstructure:"flow_scale"`

	BaseScore float64 `mapstructure:"base_score"`
	MaxScore  float64 `mapstructure:"max_score"`
	WFlow     float64 `mapstructure:"w_flow"`
	WMomentum float64 `mapstructure:"w_momentum"`
	WTrend    float64 `mapstructure:"w_trend"`

	RSIPeriod     int     `mapstructure:"rsi_period"`
	RSIRejectBand float64 `mapstructure:"rsi_reject_band"`

	EMAFast        int     `mapstructure:"ema_fast"`
	EMASlow        int     `mapstructure:"ema_slow"`
	StrongTrendPct float64 `mapstructure:"strong_trend_pct"`

	PatternLookback int     `mapstructure:"pattern_lookback"`
	BoxMaxRangePct  float64 `mapstructure:"box_max_range_pct"`
	BonusPullback   float64 `mapstructure:"bonus_pullback"`
	BonusSweep      float64 `mapstructure:"bonus_sweep"`
	BonusTrap       float64 `mapstructure:"bonus_trap"`
	BonusBreakout   float64 `mapstructure:"bonus_breakout"`
	BonusBox        float64 `mapstructure:"bonus_box"`

	WhaleNotional float64 `mapstructure:"whale_notional"`
	WhaleBonus    float64 `mapstructure:"whale_bonus"`

	Cooldown    time.Duration `mapstructure:"cooldown"`
	Improvement float64       `mapstructure:"improvement"`
}

func DefaultConfig() Config {
	return Config{
		BufferSize:      100,
		FlowScale:       250000,
		BaseScore:       10,
		MaxScore:        99,
		WFlow:           35,
		WMomentum:       20,
		WTrend:          20,
		RSIPeriod:       14,
		RSIRejectBand:   20,
		EMAFast:         9,
		EMASlow:         21,
		StrongTrendPct:  0.5,
		PatternLookback: 20,
		BoxMaxRangePct:  1.5,
		BonusPullback:   8,
		BonusSweep:      10,
		BonusTrap:       10,
		BonusBreakout:   7,
		BonusBox:        6,
		WhaleNotional:   50000,
		WhaleBonus:      8,
		Cooldown:        5 * time.Minute,
		Improvement:     3,
	}
}
