package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slot_trader/internal/models"
)

type memStore struct {
	mu    sync.Mutex
	cycle models.Cycle
	found bool
	saves int
}

func (m *memStore) LoadCycle(context.Context) (models.Cycle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycle, m.found, nil
}

func (m *memStore) SaveCycle(_ context.Context, c models.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycle, m.found = c, true
	m.saves++
	return nil
}

type fixedEquity struct {
	v   float64
	err error
}

func (f fixedEquity) Balance(context.Context) (float64, error) { return f.v, f.err }

func newVault(t *testing.T, cfg Config, eq EquitySource) (*Vault, *memStore) {
	t.Helper()
	st := &memStore{}
	v := New(cfg, st, eq, zap.NewNop())
	require.NoError(t, v.Load(context.Background()))
	return v, st
}

func TestIsSymbolLockedScenario(t *testing.T) {
	const k, m = 20, 3
	history := []models.UsedSymbol{{Symbol: "X-USDT-SWAP", Index: 1}}

	for next := 2; next <= k; next++ {
		assert.True(t, IsSymbolLocked(history, "X", next, true, m), "drag next=%d", next)
	}

	assert.True(t, IsSymbolLocked(history, "X", 2, false, m))
	assert.True(t, IsSymbolLocked(history, "X", 3, false, m))
	assert.False(t, IsSymbolLocked(history, "X", 4, false, m))
	assert.False(t, IsSymbolLocked(history, "Y", 2, false, m))
}

func TestIsSymbolLockedChecksEveryEntry(t *testing.T) {
	history := []models.UsedSymbol{
		{Symbol: "X-USDT-SWAP", Index: 5},
		{Symbol: "Y-USDT-SWAP", Index: 6},
		{Symbol: "X-USDT-SWAP", Index: 1},
	}
	assert.True(t, IsSymbolLocked(history, "xusdt", 7, false, 3))
	assert.False(t, IsSymbolLocked(history, "xusdt", 8, false, 3))
}

func TestRegisterTradeCounts(t *testing.T) {
	v, st := newVault(t, Config{CycleLength: 5, PartialLock: 3, MarginFraction: 0.05}, fixedEquity{v: 1000})
	ctx := context.Background()

	require.NoError(t, v.RegisterTrade(ctx, "BTC", 10, models.CategoryFast))
	require.NoError(t, v.RegisterTrade(ctx, "ETH", -4, models.CategoryTrend))

	c := v.Snapshot()
	assert.Equal(t, 2, c.TradeCount)
	assert.Equal(t, 1, c.WinCount)
	assert.Equal(t, 1, c.LossCount)
	assert.InDelta(t, 6.0, c.NetProfit, 1e-9)
	assert.Equal(t, []models.UsedSymbol{
		{Symbol: "BTC-USDT-SWAP", Index: 1},
		{Symbol: "ETH-USDT-SWAP", Index: 2},
	}, c.UsedSymbols)
	assert.Equal(t, 2, st.cycle.TradeCount)
	assert.True(t, v.IsSymbolLocked("BTC-USDT-SWAP"))
}

func TestCycleRollover(t *testing.T) {
	eq := &fixedEquity{v: 1000}
	v, st := newVault(t, Config{CycleLength: 3, PartialLock: 3, MarginFraction: 0.05}, eq)
	ctx := context.Background()
	assert.InDelta(t, 50.0, v.PerTradeMargin(), 1e-9)

	eq.v = 1200
	for _, s := range []string{"A", "B"} {
		require.NoError(t, v.RegisterTrade(ctx, s, 5, models.CategoryFast))
	}
	assert.Equal(t, 2, v.Snapshot().TradeCount)

	require.NoError(t, v.RegisterTrade(ctx, "C", 5, models.CategoryFast))
	c := v.Snapshot()
	assert.Equal(t, 2, c.Number)
	assert.Equal(t, 0, c.TradeCount)
	assert.Empty(t, c.UsedSymbols)
	assert.InDelta(t, 1200.0, c.StartBankroll, 1e-9)
	assert.InDelta(t, 60.0, c.PerTradeMargin, 1e-9)
	assert.Equal(t, c, st.cycle)
	assert.False(t, v.IsSymbolLocked("A"))
}

func TestCycleRolloverWithoutEquity(t *testing.T) {
	eq := &fixedEquity{v: 500}
	v, _ := newVault(t, Config{CycleLength: 2, PartialLock: 3, MarginFraction: 0.1}, eq)
	ctx := context.Background()

	eq.err = errors.New("exchange down")
	require.NoError(t, v.RegisterTrade(ctx, "A", 20, models.CategoryFast))
	require.NoError(t, v.RegisterTrade(ctx, "B", -5, models.CategoryFast))

	c := v.Snapshot()
	assert.Equal(t, 2, c.Number)
	assert.InDelta(t, 515.0, c.StartBankroll, 1e-9)
	assert.InDelta(t, 51.5, c.PerTradeMargin, 1e-9)
}

func TestDragModeLocksWholeCycle(t *testing.T) {
	v, _ := newVault(t, Config{CycleLength: 10, PartialLock: 3}, fixedEquity{v: 100})
	ctx := context.Background()
	require.NoError(t, v.SetDragMode(ctx, true))

	require.NoError(t, v.RegisterTrade(ctx, "X", 1, models.CategoryFast))
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		require.NoError(t, v.RegisterTrade(ctx, s, 1, models.CategoryFast))
	}
	assert.True(t, v.IsSymbolLocked("X"))

	require.NoError(t, v.SetDragMode(ctx, false))
	assert.False(t, v.IsSymbolLocked("X"))
}

func TestRestAndCautious(t *testing.T) {
	v, _ := newVault(t, Config{CycleLength: 10, MinScore: 75, CautiousScore: 85, WithdrawalShare: 0.2}, fixedEquity{v: 100})
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	assert.True(t, v.IsTradingAllowed())
	require.NoError(t, v.ActivateRest(ctx, time.Hour))
	assert.False(t, v.IsTradingAllowed())
	now = now.Add(61 * time.Minute)
	assert.True(t, v.IsTradingAllowed())

	assert.Equal(t, 75.0, v.MinScore())
	require.NoError(t, v.SetCautiousMode(ctx, true))
	assert.Equal(t, 85.0, v.MinScore())

	require.NoError(t, v.RegisterTrade(ctx, "A", 50, models.CategoryTrend))
	assert.InDelta(t, 10.0, v.RecommendedWithdrawal(), 1e-9)
	require.NoError(t, v.RecordWithdrawal(ctx, 10))
	assert.InDelta(t, 10.0, v.Snapshot().VaultTotal, 1e-9)
	assert.Error(t, v.RecordWithdrawal(ctx, 0))
}

func TestLoadRestoresCycle(t *testing.T) {
	st := &memStore{found: true, cycle: models.Cycle{Number: 4, TradeCount: 2,
		UsedSymbols: []models.UsedSymbol{{Symbol: "Q-USDT-SWAP", Index: 2}}}}
	v := New(Config{CycleLength: 10, PartialLock: 3}, st, fixedEquity{v: 1}, zap.NewNop())
	require.NoError(t, v.Load(context.Background()))
	assert.Equal(t, 4, v.Snapshot().Number)
	assert.True(t, v.IsSymbolLocked("Q"))
}
