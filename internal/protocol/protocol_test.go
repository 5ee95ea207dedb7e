package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slot_trader/internal/models"
)

func testConfig() Config {
	return Config{Leverage: 50, BreakevenTriggerROI: 50, Ladder: DefaultLadder()}
}

func fastLong() models.Slot {
	return models.Slot{
		ID: 3, Symbol: "X-USDT-SWAP", Side: models.SideLong,
		EntryPrice: 100, CurrentStop: 99, TargetPrice: 102, Quantity: 1,
		Category: models.CategoryFast, RiskStatus: models.RiskBearing,
	}
}

func TestFastTargetReached(t *testing.T) {
	d := Evaluate(testConfig(), fastLong(), 102)
	assert.True(t, d.Close)
	assert.Equal(t, models.ReasonTargetReached, d.Reason)
	assert.Equal(t, StateClosed, d.State)
}

func TestStopHit(t *testing.T) {
	d := Evaluate(testConfig(), fastLong(), 98.9)
	assert.True(t, d.Close)
	assert.Equal(t, models.ReasonStopHit, d.Reason)

	short := fastLong()
	short.Side, short.CurrentStop, short.TargetPrice = models.SideShort, 101, 98
	d = Evaluate(testConfig(), short, 101.2)
	assert.True(t, d.Close)
	assert.Equal(t, models.ReasonStopHit, d.Reason)
}

func TestFastBreakevenRatchet(t *testing.T) {
	cfg := testConfig()
	s := fastLong()

	// +1% при 50x = 50% ROI
	d := Evaluate(cfg, s, 101)
	require.NotNil(t, d.StopUpdate)
	assert.False(t, d.Close)
	assert.Equal(t, 100.0, d.StopUpdate.Stop)
	assert.Equal(t, models.RiskFree, d.StopUpdate.RiskStatus)
	assert.Equal(t, StateOpenRiskFree, d.State)

	// после ратчета повторного сдвига нет, и назад стоп не уходит
	s.CurrentStop, s.RiskStatus = 100, models.RiskFree
	d = Evaluate(cfg, s, 100.5)
	assert.Nil(t, d.StopUpdate)
	assert.False(t, d.Close)

	d = Evaluate(cfg, s, 100)
	assert.True(t, d.Close)
	assert.Equal(t, models.ReasonStopHit, d.Reason)
}

func TestFastBelowTriggerNoUpdate(t *testing.T) {
	d := Evaluate(testConfig(), fastLong(), 100.5)
	assert.Nil(t, d.StopUpdate)
	assert.False(t, d.Close)
	assert.Equal(t, StateOpenRisky, d.State)
}

func TestTrendLadderMonotonic(t *testing.T) {
	cfg := testConfig()
	for _, side := range []models.Side{models.SideLong, models.SideShort} {
		s := models.Slot{
			ID: 7, Symbol: "Y-USDT-SWAP", Side: side, EntryPrice: 100,
			CurrentStop: PriceAtROI(side, 100, -100, 50), Quantity: 1,
			Category: models.CategoryTrend, RiskStatus: models.RiskBearing,
		}
		// цена ходит туда-сюда, стоп только подтягивается
		moves := []float64{0.1, 0.3, 0.25, 0.7, 0.5, 1.1, 0.9, 2.5, 1.5, 4.5}
		prev := s.CurrentStop
		for _, pct := range moves {
			price := 100 * (1 + side.Sign()*pct/100)
			d := Evaluate(cfg, s, price)
			require.False(t, d.Close, "side=%s pct=%v", side, pct)
			assert.Empty(t, d.Reason)
			if d.StopUpdate != nil {
				assert.True(t, Improves(side, prev, d.StopUpdate.Stop), "stop loosened side=%s", side)
				s.CurrentStop, s.RiskStatus = d.StopUpdate.Stop, d.StopUpdate.RiskStatus
				prev = s.CurrentStop
			}
		}
		// 4.5% * 50 = 225% ROI -> ступень 200 -> стоп на 140% ROI
		assert.InDelta(t, PriceAtROI(side, 100, 140, 50), s.CurrentStop, 1e-9)
		assert.Equal(t, models.RiskFree, s.RiskStatus)
	}
}

func TestTrendNoTargetClose(t *testing.T) {
	s := models.Slot{
		ID: 6, Symbol: "Z-USDT-SWAP", Side: models.SideLong, EntryPrice: 100,
		CurrentStop: 98, TargetPrice: 101, Category: models.CategoryTrend,
	}
	d := Evaluate(testConfig(), s, 103)
	assert.False(t, d.Close)
	require.NotNil(t, d.StopUpdate)
}

func TestEvaluateIgnoresInvalidInput(t *testing.T) {
	s := fastLong()
	assert.False(t, Evaluate(testConfig(), s, 0).Close)
	s.EntryPrice = 0
	assert.False(t, Evaluate(testConfig(), s, 50).Close)
	assert.Equal(t, StateClosed, Evaluate(testConfig(), models.Slot{ID: 1}, 10).State)
}

func TestRungFor(t *testing.T) {
	ladder := []Rung{{MinROI: 30, StopROI: 10}, {MinROI: 10, StopROI: 0}}
	r, ok := RungFor(ladder, 35)
	require.True(t, ok)
	assert.Equal(t, 10.0, r.StopROI)
	_, ok = RungFor(ladder, 5)
	assert.False(t, ok)
}
