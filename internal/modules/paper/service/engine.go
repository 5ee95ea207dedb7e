// Package service: paper-движок: те же операции, что у живого шлюза, исполнение
// по последней цене ленты, сопровождение позиций по протоколу на каждом тике.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/models"
	"slot_trader/internal/protocol"
)

const historyLimit = 50

type Config struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartingBalance float64       `mapstructure:"starting_balance"`
	StateFile       string        `mapstructure:"state_file"`
}

// SlotWriter: запись перенесённого стопа обратно в документ слота.
type SlotWriter interface {
	UpdateSlot(ctx context.Context, id int, u models.SlotUpdate) error
}

type Engine struct {
	cfg    Config
	proto  protocol.Config
	market exchange.MarketData
	slots  SlotWriter
	ledger *Ledger
	out    chan models.TradeRecord
	log    *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	balance   float64
	positions map[string]*models.SimPosition
	history   []models.ClosedOrder
	// закрытия тика, чей слот ещё не сброшен: символ -> OrderID
	awaiting map[string]string
}

var _ exchange.Executor = (*Engine)(nil)

func NewEngine(cfg Config, proto protocol.Config, market exchange.MarketData, slots SlotWriter, ledger *Ledger, log *zap.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Engine{
		cfg:       cfg,
		proto:     proto,
		market:    market,
		slots:     slots,
		ledger:    ledger,
		out:       make(chan models.TradeRecord, 64),
		log:       log,
		now:       time.Now,
		balance:   cfg.StartingBalance,
		positions: make(map[string]*models.SimPosition),
		awaiting:  make(map[string]string),
	}
}

// Closed: закрытия, найденные тиком; их потребитель делает жёсткий сброс слота.
func (e *Engine) Closed() <-chan models.TradeRecord { return e.out }

// Restore поднимает состояние из файла, если он есть.
func (e *Engine) Restore() error {
	if e.ledger == nil {
		return nil
	}
	st, found, err := e.ledger.Load()
	if err != nil || !found {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance = st.Balance
	e.history = st.History
	e.positions = make(map[string]*models.SimPosition, len(st.Positions))
	for i := range st.Positions {
		p := st.Positions[i]
		e.positions[helper.NormalizeSymbol(p.Symbol)] = &p
	}
	e.log.Info("[PAPER] state restored", zap.Int("positions", len(e.positions)), zap.Float64("balance", e.balance))
	return nil
}

// persistLocked вызывается под e.mu.
func (e *Engine) persistLocked() {
	if e.ledger == nil {
		return
	}
	st := LedgerState{Balance: e.balance, History: e.history}
	for _, p := range e.positions {
		st.Positions = append(st.Positions, *p)
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].SlotID < st.Positions[j].SlotID })
	if err := e.ledger.Save(st); err != nil {
		e.log.Warn("[PAPER] state save failed", zap.Error(err))
	}
}

func (e *Engine) SafeMode() bool { return false }

func (e *Engine) Balance(context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

func (e *Engine) Positions(context.Context) (map[string]models.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]models.Position, len(e.positions))
	for sym, p := range e.positions {
		out[sym] = models.Position{
			Symbol:   sym,
			Side:     p.Side,
			Size:     p.Quantity,
			AvgPrice: p.AvgEntryPrice,
			Leverage: e.proto.Leverage,
		}
	}
	return out, nil
}

// PlaceOrder исполняет по последней цене ленты; без цены ордер отклоняется.
func (e *Engine) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	sym := helper.NormalizeSymbol(req.Symbol)
	if !req.Side.Valid() || req.Quantity <= 0 {
		return models.OrderResult{}, errors.Wrapf(models.ErrValidation, "PlaceOrder %s: side=%q qty=%v", sym, req.Side, req.Quantity)
	}
	price, err := e.market.LastPrice(ctx, sym)
	if err != nil {
		return models.OrderResult{}, errors.Wrapf(models.ErrNoPrice, "PlaceOrder %s: %v", sym, err)
	}
	if price <= 0 {
		return models.OrderResult{}, errors.Wrapf(models.ErrNoPrice, "PlaceOrder %s: price=%v", sym, price)
	}

	now := e.now()
	cat := req.Category
	if cat == "" {
		cat = models.CategoryFast
	}
	pos := &models.SimPosition{
		OrderID:       uuid.NewString(),
		SlotID:        req.SlotID,
		Symbol:        sym,
		Side:          req.Side,
		Quantity:      req.Quantity,
		EntryPrice:    price,
		AvgEntryPrice: price,
		CurrentStop:   req.StopLoss,
		TargetPrice:   req.TakeProfit,
		Category:      cat,
		RiskStatus:    models.RiskBearing,
		OpenedAt:      now,
	}

	e.mu.Lock()
	if _, ok := e.positions[sym]; ok {
		e.log.Warn("[PAPER] replacing existing position", zap.String("symbol", sym))
	}
	e.positions[sym] = pos
	delete(e.awaiting, sym)
	e.persistLocked()
	e.mu.Unlock()

	e.log.Info("[PAPER] order filled",
		zap.String("symbol", sym),
		zap.String("side", string(req.Side)),
		zap.Float64("qty", req.Quantity),
		zap.Float64("price", price),
		zap.Int("slot", req.SlotID),
	)
	return models.OrderResult{
		OrderID:   pos.OrderID,
		Symbol:    sym,
		AvgPrice:  price,
		Quantity:  req.Quantity,
		PlacedAt:  now,
		Simulated: true,
	}, nil
}

// ClosePosition закрывает по ленте. Сброс слота делает вызывающая сторона.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, _ models.Side, _ float64) (models.CloseResult, error) {
	sym := helper.NormalizeSymbol(symbol)
	e.mu.Lock()
	_, ok := e.positions[sym]
	e.mu.Unlock()
	if !ok {
		return models.CloseResult{}, errors.Wrapf(models.ErrInconsistent, "ClosePosition %s: no simulated position", sym)
	}

	price, err := e.market.LastPrice(ctx, sym)
	if err != nil || price <= 0 {
		return models.CloseResult{}, errors.Wrapf(models.ErrNoPrice, "ClosePosition %s: %v", sym, err)
	}
	closed, ok := e.settle(sym, price, models.ReasonManual, false)
	if !ok {
		return models.CloseResult{}, errors.Wrapf(models.ErrInconsistent, "ClosePosition %s: closed concurrently", sym)
	}
	return models.CloseResult{
		OrderID:   closed.OrderID,
		Symbol:    sym,
		ExitPrice: price,
		Quantity:  closed.Quantity,
		PnL:       closed.PnL,
		Known:     true,
	}, nil
}

// settle: pnl = (exit-entry)*qty*sign, баланс, история, удаление позиции.
// queued: сброс слота сделает потребитель Closed(), до его подтверждения символ не принимается обратно.
func (e *Engine) settle(sym string, exit float64, reason models.CloseReason, queued bool) (models.ClosedOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[sym]
	if !ok {
		return models.ClosedOrder{}, false
	}
	pnl := PnL(p.Side, p.AvgEntryPrice, exit, p.Quantity)
	e.balance += pnl
	closed := models.ClosedOrder{
		OrderID:    p.OrderID,
		Symbol:     sym,
		Side:       p.Side,
		Quantity:   p.Quantity,
		EntryPrice: p.AvgEntryPrice,
		ExitPrice:  exit,
		PnL:        pnl,
		Reason:     reason,
		ClosedAt:   e.now(),
	}
	e.history = append(e.history, closed)
	if len(e.history) > historyLimit {
		e.history = append([]models.ClosedOrder(nil), e.history[len(e.history)-historyLimit:]...)
	}
	delete(e.positions, sym)
	if queued {
		e.awaiting[sym] = p.OrderID
	}
	e.persistLocked()

	e.log.Info("[PAPER] position closed",
		zap.String("symbol", sym),
		zap.String("reason", string(reason)),
		zap.Float64("exit", exit),
		zap.Float64("pnl", pnl),
		zap.Float64("balance", e.balance),
	)
	return closed, true
}

func PnL(side models.Side, entry, exit, qty float64) float64 {
	return (exit - entry) * qty * side.Sign()
}

// SetStop переносит стоп симулированной позиции.
func (e *Engine) SetStop(_ context.Context, symbol string, _ models.Side, _ float64, stop float64) error {
	sym := helper.NormalizeSymbol(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[sym]
	if !ok {
		return errors.Wrapf(models.ErrInconsistent, "SetStop %s: no simulated position", sym)
	}
	p.CurrentStop = stop
	e.persistLocked()
	return nil
}

func (e *Engine) ClosedPnL(_ context.Context, symbol string) (float64, float64, bool, error) {
	sym := helper.NormalizeSymbol(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].Symbol == sym {
			return e.history[i].PnL, e.history[i].ExitPrice, true, nil
		}
	}
	return 0, 0, false, nil
}

// Adopt возвращает в симуляцию позицию, которая есть в слоте, но пропала из движка.
// Повторный вызов для того же символа ничего не меняет.
func (e *Engine) Adopt(_ context.Context, s models.Slot) error {
	if !s.Side.Valid() || s.EntryPrice <= 0 {
		return errors.Wrapf(models.ErrValidation, "Adopt slot %d: side=%q entry=%v", s.ID, s.Side, s.EntryPrice)
	}
	sym := helper.NormalizeSymbol(s.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[sym]; ok {
		return nil
	}
	if _, ok := e.awaiting[sym]; ok {
		return errors.Wrapf(models.ErrInconsistent, "Adopt %s: closed, slot reset pending", sym)
	}
	opened := s.OpenedAt
	if opened.IsZero() {
		opened = e.now()
	}
	e.positions[sym] = &models.SimPosition{
		OrderID:       uuid.NewString(),
		SlotID:        s.ID,
		Symbol:        sym,
		Side:          s.Side,
		Quantity:      s.Quantity,
		EntryPrice:    s.EntryPrice,
		AvgEntryPrice: s.EntryPrice,
		CurrentStop:   s.CurrentStop,
		TargetPrice:   s.TargetPrice,
		Category:      s.Category,
		RiskStatus:    s.RiskStatus,
		OpenedAt:      opened,
	}
	e.persistLocked()
	e.log.Info("[PAPER] position adopted", zap.String("symbol", sym), zap.Int("slot", s.ID))
	return nil
}

// AwaitingReset: позиция по символу закрыта тиком, а слот ещё не сброшен.
func (e *Engine) AwaitingReset(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.awaiting[helper.NormalizeSymbol(symbol)]
	return ok
}

// ResetDone снимает отметку после сброса слота по записи закрытия.
func (e *Engine) ResetDone(rec models.TradeRecord) {
	sym := helper.NormalizeSymbol(rec.Symbol)
	e.mu.Lock()
	delete(e.awaiting, sym)
	e.mu.Unlock()
}

func (e *Engine) open() []models.SimPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.SimPosition, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out
}
