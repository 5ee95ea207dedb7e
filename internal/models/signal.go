package models

import "time"

type Pattern string

const (
	PatternNone           Pattern = ""
	PatternPullbackBounce Pattern = "pullback_bounce"
	PatternLiquiditySweep Pattern = "liquidity_sweep"
	PatternTrap           Pattern = "trap"
	PatternBreakout       Pattern = "breakout"
	PatternBoxExit        Pattern = "box_exit"
)

// ScoreCard: разложение составного скоринга по слагаемым.
type ScoreCard struct {
	Symbol   string
	Side     Side
	CVD      float64
	Flow     float64
	Momentum float64
	Trend    float64
	Pattern  Pattern
	Bonus    float64
	Whale    float64
	Total    float64
	RSI      float64
	Category Category
	Rejected string // причина отказа, если кандидат отброшен
}

type Candidate struct {
	Symbol   string
	Side     Side
	Score    float64
	Category Category
	Card     ScoreCard
	At       time.Time
}
