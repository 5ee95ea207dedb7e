package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slot_trader/internal/models"
	"slot_trader/pkg/db"
	"slot_trader/pkg/workpool"
)

// fakePG эмулирует нужные запросы: документы слотов с jsonb ||, цикл, историю.
type fakePG struct {
	mu       sync.Mutex
	slots    map[int]map[string]any
	cycle    []byte
	trades   int
	status   []byte
	down     bool
	execs    int
	queries  int
	txCalled int
	// midQuery вызывается после снятия снимка строк, до возврата из Query
	midQuery func()
}

func newFakePG() *fakePG { return &fakePG{slots: map[int]map[string]any{}} }

func (f *fakePG) RunMaster(ctx context.Context, fn func(ctx context.Context, tx db.Transaction) error) error {
	f.mu.Lock()
	f.txCalled++
	f.mu.Unlock()
	return fn(ctx, f)
}

func (f *fakePG) Conn() db.Transaction { return f }

var errDown = errors.New("connection refused")

func (f *fakePG) Exec(_ context.Context, q string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs++
	if f.down {
		return pgconn.CommandTag{}, errDown
	}
	switch q {
	case qInsertSlot:
		id := args[0].(int)
		if _, ok := f.slots[id]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		doc := map[string]any{}
		_ = sonic.UnmarshalString(args[1].(string), &doc)
		f.slots[id] = doc
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case qMergeSlot:
		id := args[0].(int)
		doc, ok := f.slots[id]
		if !ok {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		patch := map[string]any{}
		_ = sonic.UnmarshalString(args[1].(string), &patch)
		for k, v := range patch {
			doc[k] = v
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case qInsertTrade:
		f.trades++
	case qUpsertCycle:
		f.cycle = []byte(args[0].(string))
	case qUpsertStatus:
		f.status = []byte(args[0].(string))
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakePG) Query(_ context.Context, q string, _ ...interface{}) (pgx.Rows, error) {
	f.mu.Lock()
	f.queries++
	if f.down {
		f.mu.Unlock()
		return nil, errDown
	}
	ids := make([]int, 0, len(f.slots))
	for id := range f.slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	rows := &fakeRows{}
	for _, id := range ids {
		b, _ := sonic.Marshal(f.slots[id])
		rows.data = append(rows.data, []any{id, b})
	}
	hook := f.midQuery
	f.midQuery = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return rows, nil
}

func (f *fakePG) QueryRow(_ context.Context, q string, _ ...interface{}) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errRow{errDown}
	}
	if f.cycle == nil {
		return errRow{pgx.ErrNoRows}
	}
	return docRow{f.cycle}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type docRow struct{ doc []byte }

func (r docRow) Scan(dest ...any) error {
	*(dest[0].(*[]byte)) = r.doc
	return nil
}

type fakeRows struct {
	data [][]any
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.i-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	*(dest[0].(*int)) = row[0].(int)
	*(dest[1].(*[]byte)) = row[1].([]byte)
	return nil
}

func testPool() *workpool.Pool {
	return workpool.New(workpool.Config{Size: 2, CallTimeout: time.Second})
}

func TestEnsureSlotsAndMerge(t *testing.T) {
	ctx := context.Background()
	pg := newFakePG()
	s := New(pg, testPool(), 10, zap.NewNop())

	require.NoError(t, s.EnsureSlots(ctx, 10))
	require.NoError(t, s.EnsureSlots(ctx, 10), "second run leaves existing documents")

	slots, err := s.Slots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 10)
	assert.False(t, slots[0].Occupied())

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateSlot(ctx, 3, models.SlotOccupied(models.Slot{
		ID: 3, Symbol: "BTC-USDT-SWAP", Side: models.SideLong, EntryPrice: 100, CurrentStop: 99,
		Quantity: 1, Category: models.CategoryFast, RiskStatus: models.RiskBearing, OpenedAt: now, UpdatedAt: now,
	})))
	require.NoError(t, s.UpdateSlot(ctx, 3, models.SlotStopMoved(100, models.RiskFree, now)))

	slots, err = s.Slots(ctx)
	require.NoError(t, err)
	got := slots[2]
	assert.Equal(t, 3, got.ID)
	assert.Equal(t, "BTC-USDT-SWAP", got.Symbol)
	assert.Equal(t, 100.0, got.CurrentStop)
	assert.Equal(t, models.RiskFree, got.RiskStatus)
	assert.Equal(t, 100.0, got.EntryPrice, "merge keeps untouched fields")

	require.NoError(t, s.UpdateSlot(ctx, 3, models.SlotCleared(now)))
	slots, _ = s.Slots(ctx)
	assert.False(t, slots[2].Occupied())
	assert.Empty(t, slots[2].Side)
}

func TestUpdateSlotOutOfRange(t *testing.T) {
	s := New(nil, testPool(), 10, zap.NewNop())
	assert.ErrorIs(t, s.UpdateSlot(context.Background(), 11, models.SlotCleared(time.Now())), models.ErrValidation)
	assert.ErrorIs(t, s.UpdateSlot(context.Background(), 0, models.SlotCleared(time.Now())), models.ErrValidation)
}

func TestReadsFallBackToCacheWritesFail(t *testing.T) {
	ctx := context.Background()
	pg := newFakePG()
	s := New(pg, testPool(), 2, zap.NewNop())
	require.NoError(t, s.EnsureSlots(ctx, 2))
	require.NoError(t, s.UpdateSlot(ctx, 1, models.SlotStopMoved(5, models.RiskBearing, time.Now())))

	pg.mu.Lock()
	pg.down = true
	pg.mu.Unlock()

	slots, err := s.Slots(ctx)
	assert.ErrorIs(t, err, models.ErrTransient)
	require.Len(t, slots, 2, "last snapshot is served")
	assert.Equal(t, 5.0, slots[0].CurrentStop)

	err = s.UpdateSlot(ctx, 1, models.SlotStopMoved(6, models.RiskBearing, time.Now()))
	assert.ErrorIs(t, err, models.ErrTransient)
	slots, _ = s.Slots(ctx)
	assert.Equal(t, 5.0, slots[0].CurrentStop, "failed write does not touch the cache")

	pg.mu.Lock()
	assert.Greater(t, pg.queries, 2, "reads are retried")
	pg.mu.Unlock()
}

func TestSlowReadDoesNotOverwriteNewerWrite(t *testing.T) {
	ctx := context.Background()
	pg := newFakePG()
	s := New(pg, testPool(), 2, zap.NewNop())
	require.NoError(t, s.EnsureSlots(ctx, 2))
	require.NoError(t, s.UpdateSlot(ctx, 1, models.SlotStopMoved(5, models.RiskBearing, time.Now())))

	pg.mu.Lock()
	pg.midQuery = func() {
		require.NoError(t, s.UpdateSlot(ctx, 1, models.SlotStopMoved(7, models.RiskFree, time.Now())))
	}
	pg.mu.Unlock()

	slots, err := s.Slots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, slots[0].CurrentStop, "write that landed during the read wins")

	pg.mu.Lock()
	pg.down = true
	pg.mu.Unlock()
	slots, err = s.Slots(ctx)
	assert.ErrorIs(t, err, models.ErrTransient)
	assert.Equal(t, 7.0, slots[0].CurrentStop)
	assert.Equal(t, models.RiskFree, slots[0].RiskStatus)
}

func TestCycleRoundTrip(t *testing.T) {
	ctx := context.Background()
	pg := newFakePG()
	s := New(pg, testPool(), 10, zap.NewNop())

	_, found, err := s.LoadCycle(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	c := models.Cycle{Number: 2, TradeCount: 3, UsedSymbols: []models.UsedSymbol{{Symbol: "BTC-USDT-SWAP", Index: 1}}}
	require.NoError(t, s.SaveCycle(ctx, c))

	fresh := New(pg, testPool(), 10, zap.NewNop())
	got, found, err := fresh.LoadCycle(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, got.Number)
	assert.Equal(t, c.UsedSymbols, got.UsedSymbols)
}

func TestOfflineStore(t *testing.T) {
	ctx := context.Background()
	s := New(nil, testPool(), 4, zap.NewNop())
	require.True(t, s.Offline())
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSlots(ctx, 4))

	slots, err := s.Slots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 4)

	require.NoError(t, s.AppendTrade(ctx, models.TradeRecord{SlotID: 1, Symbol: "BTC-USDT-SWAP", PnL: 1.5}))
	assert.Len(t, s.Trades(), 1)

	require.NoError(t, s.SaveBankrollStatus(ctx, models.BankrollStatus{Balance: 100}))
	assert.Equal(t, 100.0, s.BankrollStatus().Balance)

	require.NoError(t, s.SaveCycle(ctx, models.Cycle{Number: 7}))
	c, found, err := s.LoadCycle(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, c.Number)
}

func TestAppendTradeWritesHistory(t *testing.T) {
	ctx := context.Background()
	pg := newFakePG()
	s := New(pg, testPool(), 4, zap.NewNop())
	require.NoError(t, s.AppendTrade(ctx, models.TradeRecord{SlotID: 1, Symbol: "ETH-USDT-SWAP", PnL: -2, Reason: models.ReasonStopHit}))
	require.NoError(t, s.SaveBankrollStatus(ctx, models.BankrollStatus{Balance: 42}))

	pg.mu.Lock()
	defer pg.mu.Unlock()
	assert.Equal(t, 1, pg.trades)
	assert.Contains(t, string(pg.status), `"balance":42`)
}
