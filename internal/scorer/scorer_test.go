package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slot_trader/internal/models"
)

func trade(sym string, side models.Side, price, size float64) models.TradePrint {
	return models.TradePrint{Symbol: sym, Side: side, Price: price, Size: size}
}

// rising: n свечей с закрытиями start, start+1, ...
func rising(n int, start float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		c := start + float64(i)
		out[i] = models.Candle{Open: c - 0.5, Close: c, High: c + 0.2, Low: c - 0.7}
	}
	return out
}

func flat(n int, px float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Open: px, Close: px, High: px, Low: px}
	}
	return out
}

func TestFlowBookRingIsBounded(t *testing.T) {
	fb := NewFlowBook(3)
	fb.Add(trade("btcusdt", models.SideLong, 10, 1))
	fb.Add(trade("BTC-USDT-SWAP", models.SideLong, 10, 2))
	fb.Add(trade("BTC", models.SideShort, 10, 1))
	assert.InDelta(t, 20.0, fb.CVD("BTC-USDT-SWAP"), 1e-9)

	// первый принт вытесняется
	fb.Add(trade("BTC", models.SideShort, 10, 5))
	assert.InDelta(t, -40.0, fb.CVD("BTC"), 1e-9)
	assert.Zero(t, fb.CVD("ETH"))
}

func TestFlowBookActiveOrder(t *testing.T) {
	fb := NewFlowBook(10)
	fb.Add(trade("A", models.SideLong, 1, 100))
	fb.Add(trade("B", models.SideShort, 1, 500))
	fb.Add(trade("C", models.SideLong, 1, 5))

	assert.Equal(t, []string{"B-USDT-SWAP", "A-USDT-SWAP"}, fb.Active(50))
	assert.InDelta(t, 100.0, fb.LargestPrint("A", models.SideLong), 1e-9)
	assert.Zero(t, fb.LargestPrint("A", models.SideShort))
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{name: "all up", closes: []float64{1, 2, 3, 4, 5, 6}, want: 100},
		{name: "all down", closes: []float64{6, 5, 4, 3, 2, 1}, want: 0},
		{name: "flat", closes: []float64{3, 3, 3, 3, 3, 3}, want: 50},
		{name: "too short", closes: []float64{1, 2}, want: 50},
		{name: "symmetric", closes: []float64{10, 11, 10, 11, 10}, want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RSI(tt.closes, 4), 1e-9)
		})
	}
}

func TestEMA(t *testing.T) {
	v, ok := EMA([]float64{5, 5, 5}, 3)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, v, 1e-9)

	_, ok = EMA([]float64{1, 2}, 3)
	assert.False(t, ok)

	fast, _ := EMA([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 3)
	slow, _ := EMA([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 8)
	assert.Greater(t, fast, slow)
}

func TestDetectPattern(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("breakout", func(t *testing.T) {
		p, bonus := DetectPattern(cfg, rising(25, 100), models.SideLong)
		assert.Equal(t, models.PatternBreakout, p)
		assert.Equal(t, cfg.BonusBreakout, bonus)
	})

	t.Run("box exit", func(t *testing.T) {
		cs := flat(10, 100)
		cs = append(cs, models.Candle{Open: 100, Close: 101, High: 101.1, Low: 100})
		p, _ := DetectPattern(cfg, cs, models.SideLong)
		assert.Equal(t, models.PatternBoxExit, p)
	})

	t.Run("liquidity sweep", func(t *testing.T) {
		cs := flat(10, 100)
		cs = append(cs, models.Candle{Open: 99.8, Close: 100.05, High: 100.1, Low: 98})
		p, bonus := DetectPattern(cfg, cs, models.SideLong)
		assert.Equal(t, models.PatternLiquiditySweep, p)
		assert.Equal(t, cfg.BonusSweep, bonus)
	})

	t.Run("bull trap for short", func(t *testing.T) {
		cs := flat(10, 100)
		cs = append(cs,
			models.Candle{Open: 100, Close: 100.6, High: 100.7, Low: 99.9},
			models.Candle{Open: 100.6, Close: 99.7, High: 100.65, Low: 99.6},
		)
		p, _ := DetectPattern(cfg, cs, models.SideShort)
		assert.Equal(t, models.PatternTrap, p)
	})

	t.Run("nothing", func(t *testing.T) {
		p, bonus := DetectPattern(cfg, flat(10, 100), models.SideLong)
		assert.Equal(t, models.PatternNone, p)
		assert.Zero(t, bonus)
	})
}

func TestScoreComposite(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	s.OnTrade(trade("X", models.SideLong, 100, 3000))

	card := s.Score("X", rising(30, 100), rising(31, 100))
	require.Empty(t, card.Rejected)
	assert.Equal(t, models.SideLong, card.Side)
	assert.Equal(t, models.CategoryTrend, card.Category)
	assert.InDelta(t, 35.0, card.Flow, 1e-9)
	assert.InDelta(t, 20.0, card.Momentum, 1e-9)
	assert.InDelta(t, 20.0, card.Trend, 1e-9)
	assert.Equal(t, models.PatternBreakout, card.Pattern)
	assert.InDelta(t, 8.0, card.Whale, 1e-9)
	assert.InDelta(t, 99.0, card.Total, 1e-9)
}

func TestScoreRejections(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())

	card := s.Score("NOFLOW", rising(30, 100), rising(31, 100))
	assert.Equal(t, rejectNoFlow, card.Rejected)

	// продажи против сильного роста на рабочем ТФ
	s.OnTrade(trade("M", models.SideShort, 100, 10))
	card = s.Score("M", rising(30, 100), rising(31, 100))
	assert.Equal(t, rejectMomentum, card.Rejected)

	// нейтральный моментум, но старший ТФ растёт
	s.OnTrade(trade("T", models.SideShort, 100, 10))
	card = s.Score("T", flat(30, 100), rising(31, 100))
	assert.Equal(t, rejectCounterTrend, card.Rejected)

	s.OnTrade(trade("H", models.SideLong, 100, 10))
	card = s.Score("H", rising(5, 100), rising(31, 100))
	assert.Equal(t, rejectNoHistory, card.Rejected)
}

func TestEvaluateCooldownAndImprovement(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	card := models.ScoreCard{Symbol: "X-USDT-SWAP", Side: models.SideLong, Total: 80, Category: models.CategoryFast}

	_, ok := s.Evaluate(models.ScoreCard{Symbol: "Y-USDT-SWAP", Total: 70}, 75)
	assert.False(t, ok)

	c, ok := s.Evaluate(card, 75)
	require.True(t, ok)
	assert.Equal(t, 80.0, c.Score)
	assert.Equal(t, now, c.At)

	now = now.Add(time.Minute)
	_, ok = s.Evaluate(card, 75)
	assert.False(t, ok)

	card.Total = 82.9
	_, ok = s.Evaluate(card, 75)
	assert.False(t, ok)

	card.Total = 83
	_, ok = s.Evaluate(card, 75)
	assert.True(t, ok)

	now = now.Add(6 * time.Minute)
	_, ok = s.Evaluate(card, 75)
	assert.True(t, ok)

	card.Rejected = rejectMomentum
	now = now.Add(time.Hour)
	_, ok = s.Evaluate(card, 75)
	assert.False(t, ok)
}
