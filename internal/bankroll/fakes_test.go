package bankroll

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

type memStore struct {
	mu       sync.Mutex
	slots    map[int]models.Slot
	trades   []models.TradeRecord
	statuses []models.BankrollStatus
	updates  int
	failRead bool
	// failWrites: столько следующих UpdateSlot вернут ErrTransient
	failWrites int
}

func newMemStore(n int) *memStore {
	m := &memStore{slots: make(map[int]models.Slot, n)}
	for i := 1; i <= n; i++ {
		m.slots[i] = models.Slot{ID: i}
	}
	return m
}

func (m *memStore) put(s models.Slot) {
	m.mu.Lock()
	m.slots[s.ID] = s
	m.mu.Unlock()
}

func (m *memStore) get(id int) models.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id]
}

func (m *memStore) Slots(context.Context) ([]models.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, models.ErrTransient
	}
	out := make([]models.Slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateSlot(_ context.Context, id int, u models.SlotUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites > 0 {
		m.failWrites--
		return models.ErrTransient
	}
	s, err := m.slots[id].Apply(u)
	if err != nil {
		return err
	}
	s.ID = id
	m.slots[id] = s
	m.updates++
	return nil
}

func (m *memStore) AppendTrade(_ context.Context, rec models.TradeRecord) error {
	m.mu.Lock()
	m.trades = append(m.trades, rec)
	m.mu.Unlock()
	return nil
}

func (m *memStore) SaveBankrollStatus(_ context.Context, st models.BankrollStatus) error {
	m.mu.Lock()
	m.statuses = append(m.statuses, st)
	m.mu.Unlock()
	return nil
}

func (m *memStore) occupiedWith(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.slots {
		if s.Occupied() && helper.SameSymbol(s.Symbol, symbol) {
			n++
		}
	}
	return n
}

type fakeExec struct {
	mu        sync.Mutex
	positions map[string]models.Position
	balance   float64
	safe      bool
	placeErr  error
	placeWait time.Duration
	placed    []models.OrderRequest
	closed    []models.Position
	closedPnL map[string]float64
	stops     map[string]float64
}

func newFakeExec() *fakeExec {
	return &fakeExec{positions: map[string]models.Position{}, balance: 1000, closedPnL: map[string]float64{}, stops: map[string]float64{}}
}

func (f *fakeExec) Positions(context.Context) (map[string]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.Position, len(f.positions))
	for k, v := range f.positions {
		out[k] = v
	}
	return out, nil
}

func (f *fakeExec) PlaceOrder(_ context.Context, req models.OrderRequest) (models.OrderResult, error) {
	if f.placeWait > 0 {
		time.Sleep(f.placeWait)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return models.OrderResult{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return models.OrderResult{OrderID: "ord-" + req.Symbol, Symbol: req.Symbol}, nil
}

func (f *fakeExec) ClosePosition(_ context.Context, symbol string, side models.Side, qty float64) (models.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, models.Position{Symbol: symbol, Side: side, Size: qty})
	delete(f.positions, symbol)
	return models.CloseResult{Symbol: symbol, Quantity: qty, ExitPrice: 101, PnL: 1.5, Known: true}, nil
}

func (f *fakeExec) SetStop(_ context.Context, symbol string, _ models.Side, _ float64, stop float64) error {
	f.mu.Lock()
	f.stops[symbol] = stop
	f.mu.Unlock()
	return nil
}

func (f *fakeExec) Balance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExec) ClosedPnL(_ context.Context, symbol string) (float64, float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pnl, ok := f.closedPnL[symbol]
	if !ok {
		return 0, 0, false, errors.New("no history")
	}
	return pnl, 0, true, nil
}

func (f *fakeExec) SafeMode() bool { return f.safe }

type fakeMarket struct {
	price float64
	inst  models.Instrument
}

func (f fakeMarket) LastPrice(context.Context, string) (float64, error) { return f.price, nil }

func (f fakeMarket) LastPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = f.price
	}
	return out, nil
}

func (f fakeMarket) Instrument(_ context.Context, symbol string) (models.Instrument, error) {
	inst := f.inst
	inst.Symbol = symbol
	return inst, nil
}

type zeroMargin struct{}

func (zeroMargin) PerTradeMargin() float64 { return 0 }

type fakeVault struct {
	mu     sync.Mutex
	trades []models.TradeRecord
}

func (f *fakeVault) RegisterTrade(_ context.Context, symbol string, pnl float64, cat models.Category) error {
	f.mu.Lock()
	f.trades = append(f.trades, models.TradeRecord{Symbol: symbol, PnL: pnl, Category: cat})
	f.mu.Unlock()
	return nil
}

func (f *fakeVault) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, ...any) {}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Unlock(_ context.Context, key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

type fakeLedger struct {
	mu      sync.Mutex
	adopted []models.Slot
	exec    *fakeExec
}

// Adopt кладёт позицию и в «биржу» paper-режима, как делает настоящий движок.
func (f *fakeLedger) Adopt(_ context.Context, s models.Slot) error {
	f.mu.Lock()
	f.adopted = append(f.adopted, s)
	f.mu.Unlock()
	if f.exec != nil {
		f.exec.mu.Lock()
		f.exec.positions[helper.NormalizeSymbol(s.Symbol)] = models.Position{
			Symbol: s.Symbol, Side: s.Side, Size: s.Quantity, AvgPrice: s.EntryPrice,
		}
		f.exec.mu.Unlock()
	}
	return nil
}

func (f *fakeLedger) AwaitingReset(string) bool { return false }

func testConfig() Config {
	return Config{
		MaxSlots:       10,
		Fast:           models.SlotRange{From: 1, To: 5},
		Trend:          models.SlotRange{From: 6, To: 10},
		InitialSlots:   2,
		RiskCap:        0.20,
		MarginPerSlot:  0.05,
		Leverage:       50,
		FastStopPct:    1,
		TrendStopPct:   2,
		FastTargetPct:  2,
		MinBalance:     20,
		ReaperInterval: time.Second,
		ReconcileGrace: 120 * time.Second,
	}
}

type harness struct {
	store    *memStore
	exec     *fakeExec
	vault    *fakeVault
	pending  *Reservations
	resetter *Resetter
	alloc    *Allocator
}

func newHarness(cfg Config, mode models.Mode) *harness {
	h := &harness{
		store:   newMemStore(cfg.MaxSlots),
		exec:    newFakeExec(),
		vault:   &fakeVault{},
		pending: NewReservations(),
	}
	log := zap.NewNop()
	h.resetter = NewResetter(mode, h.store, h.vault, nopNotifier{}, log)
	h.alloc = NewAllocator(cfg, Deps{
		Mode:     mode,
		Store:    h.store,
		Exec:     h.exec,
		Market:   fakeMarket{price: 100, inst: models.Instrument{QtyStep: 0.01, MinQty: 0.01, TickSize: 0.01}},
		Margin:   zeroMargin{},
		Pending:  h.pending,
		Resetter: h.resetter,
		Locker:   &memLocker{},
		Notifier: nopNotifier{},
		Log:      log,
	})
	return h
}
