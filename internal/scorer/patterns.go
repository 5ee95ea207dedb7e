package scorer

import (
	"slot_trader/internal/models"
)

// DetectPattern ищет на последних свечах паттерн в сторону side.
// Порядок проверки: sweep, trap, box exit, breakout, pullback-bounce. Возвращается первый найденный.
func DetectPattern(cfg Config, candles []models.Candle, side models.Side) (models.Pattern, float64) {
	n := cfg.PatternLookback
	if n <= 2 || len(candles) < 3 || !side.Valid() {
		return models.PatternNone, 0
	}
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}

	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	hi, lo := extremes(candles[:len(candles)-1])
	hiBefore, loBefore := extremes(candles[:len(candles)-2])
	long := side == models.SideLong

	// снятие ликвидности: фитиль за экстремум и возврат в диапазон
	if long && last.Low < lo && last.Close > lo && last.Bullish() {
		return models.PatternLiquiditySweep, cfg.BonusSweep
	}
	if !long && last.High > hi && last.Close < hi && last.Bearish() {
		return models.PatternLiquiditySweep, cfg.BonusSweep
	}

	// ловушка: прошлая свеча закрылась за экстремумом, текущая вернулась
	if long && prev.Close < loBefore && last.Close > loBefore && last.Bullish() {
		return models.PatternTrap, cfg.BonusTrap
	}
	if !long && prev.Close > hiBefore && last.Close < hiBefore && last.Bearish() {
		return models.PatternTrap, cfg.BonusTrap
	}

	// выход из узкой коробки
	if lo > 0 && (hi-lo)/lo*100 <= cfg.BoxMaxRangePct {
		if (long && last.Close > hi) || (!long && last.Close < lo) {
			return models.PatternBoxExit, cfg.BonusBox
		}
	}

	if (long && last.Close > hi) || (!long && last.Close < lo) {
		return models.PatternBreakout, cfg.BonusBreakout
	}

	// откат по тренду окна и отскок
	first := candles[0]
	if long && last.Close > first.Close && prev.Bearish() && last.Bullish() && last.Close > prev.Open {
		return models.PatternPullbackBounce, cfg.BonusPullback
	}
	if !long && last.Close < first.Close && prev.Bullish() && last.Bearish() && last.Close < prev.Open {
		return models.PatternPullbackBounce, cfg.BonusPullback
	}
	return models.PatternNone, 0
}

func extremes(candles []models.Candle) (hi, lo float64) {
	for i, c := range candles {
		if i == 0 || c.High > hi {
			hi = c.High
		}
		if i == 0 || c.Low < lo {
			lo = c.Low
		}
	}
	return hi, lo
}
