package bankroll

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slot_trader/internal/models"
	"slot_trader/internal/protocol"
)

var guardProto = protocol.Config{Leverage: 50, BreakevenTriggerROI: 50, Ladder: protocol.DefaultLadder()}

func TestGuardClosesFastOnTarget(t *testing.T) {
	h := newHarness(testConfig(), models.ModeLive)
	h.alloc.market = fakeMarket{price: 102.5, inst: models.Instrument{TickSize: 0.01}}
	s := occupied(1, "BTC-USDT-SWAP", models.CategoryFast, models.RiskBearing)
	s.TargetPrice = 102
	h.store.put(s)

	require.NoError(t, h.alloc.Guard(context.Background(), guardProto))

	assert.False(t, h.store.get(1).Occupied())
	require.Len(t, h.exec.closed, 1)
	assert.Equal(t, "BTC-USDT-SWAP", h.exec.closed[0].Symbol)
	assert.Equal(t, 1, h.vault.count())
	require.Len(t, h.store.trades, 1)
	assert.Equal(t, models.ReasonTargetReached, h.store.trades[0].Reason)
}

func TestGuardMovesTrendStop(t *testing.T) {
	h := newHarness(testConfig(), models.ModeLive)
	h.alloc.market = fakeMarket{price: 100.7, inst: models.Instrument{TickSize: 0.01}}
	s := occupied(6, "ETH-USDT-SWAP", models.CategoryTrend, models.RiskBearing)
	s.CurrentStop = 98
	h.store.put(s)

	require.NoError(t, h.alloc.Guard(context.Background(), guardProto))

	got := h.store.get(6)
	assert.True(t, got.Occupied())
	assert.InDelta(t, 100.2, got.CurrentStop, 1e-9)
	assert.Equal(t, models.RiskFree, got.RiskStatus)
	assert.InDelta(t, 100.2, h.exec.stops["ETH-USDT-SWAP"], 1e-9)

	// второй проход на той же цене стоп не трогает
	updates := h.store.updates
	require.NoError(t, h.alloc.Guard(context.Background(), guardProto))
	assert.Equal(t, updates, h.store.updates)
}

func TestGuardSkipsWhileCloseLockHeld(t *testing.T) {
	h := newHarness(testConfig(), models.ModeLive)
	h.alloc.market = fakeMarket{price: 98, inst: models.Instrument{TickSize: 0.01}}
	h.store.put(occupied(2, "SOL-USDT-SWAP", models.CategoryFast, models.RiskBearing))

	ok, _ := h.alloc.locker.TryLock(context.Background(), CloseLockKey("SOL-USDT-SWAP"), closeLockTTL)
	require.True(t, ok)

	require.NoError(t, h.alloc.Guard(context.Background(), guardProto))
	assert.True(t, h.store.get(2).Occupied())
	assert.Empty(t, h.exec.closed)
}
