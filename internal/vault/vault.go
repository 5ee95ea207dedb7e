// Package vault ведёт цикл из K сделок: статистику, компаундинг банка и
// блокировки символов для диверсификации.
package vault

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

type Config struct {
	CycleLength     int     `mapstructure:"cycle_length"`
	PartialLock     int     `mapstructure:"partial_lock"`
	DragMode        bool    `mapstructure:"drag_mode"`
	MinScore        float64 `mapstructure:"min_score"`
	CautiousScore   float64 `mapstructure:"cautious_score"`
	WithdrawalShare float64 `mapstructure:"withdrawal_share"`
	// MarginFraction берётся из настроек банка (margin_per_slot).
	MarginFraction float64 `mapstructure:"-"`
}

type Store interface {
	LoadCycle(ctx context.Context) (models.Cycle, bool, error)
	SaveCycle(ctx context.Context, c models.Cycle) error
}

type EquitySource interface {
	Balance(ctx context.Context) (float64, error)
}

type Vault struct {
	cfg    Config
	store  Store
	equity EquitySource
	log    *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cycle models.Cycle
}

func New(cfg Config, store Store, equity EquitySource, log *zap.Logger) *Vault {
	if cfg.CycleLength <= 0 {
		cfg.CycleLength = 20
	}
	if cfg.PartialLock <= 0 {
		cfg.PartialLock = 3
	}
	return &Vault{
		cfg:    cfg,
		store:  store,
		equity: equity,
		log:    log,
		now:    time.Now,
		cycle:  models.Cycle{Number: 1, DragMode: cfg.DragMode},
	}
}

// Load поднимает цикл из хранилища; при первом запуске открывает цикл №1 от текущего эквити.
func (v *Vault) Load(ctx context.Context) error {
	c, found, err := v.store.LoadCycle(ctx)
	if err != nil {
		return errors.Wrap(err, "vault load")
	}
	if found {
		v.mu.Lock()
		v.cycle = c
		v.mu.Unlock()
		v.log.Info("[VAULT] cycle restored",
			zap.Int("cycle", c.Number), zap.Int("trades", c.TradeCount), zap.Float64("net", c.NetProfit))
		return nil
	}

	start := 0.0
	if eq, err := v.equity.Balance(ctx); err == nil {
		start = eq
	} else {
		v.log.Warn("[VAULT] equity unavailable on init", zap.Error(err))
	}

	v.mu.Lock()
	v.cycle = models.Cycle{
		Number:         1,
		StartBankroll:  start,
		PerTradeMargin: start * v.cfg.MarginFraction,
		DragMode:       v.cfg.DragMode,
		UpdatedAt:      v.now(),
	}
	snap := v.snapshotLocked()
	v.mu.Unlock()

	return v.store.SaveCycle(ctx, snap)
}

func (v *Vault) Snapshot() models.Cycle {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snapshotLocked()
}

func (v *Vault) snapshotLocked() models.Cycle {
	c := v.cycle
	c.UsedSymbols = append([]models.UsedSymbol(nil), v.cycle.UsedSymbols...)
	return c
}

// RegisterTrade учитывает закрытую сделку любой категории. При достижении K
// запускает пересчёт цикла.
func (v *Vault) RegisterTrade(ctx context.Context, symbol string, pnl float64, category models.Category) error {
	sym := helper.NormalizeSymbol(symbol)

	v.mu.Lock()
	c := v.cycle
	c.UsedSymbols = c.WithUsed(sym)
	c.TradeCount++
	c.NetProfit += pnl
	if pnl > 0 {
		c.WinCount++
	} else {
		c.LossCount++
	}
	c.UpdatedAt = v.now()
	v.cycle = c
	snap := v.snapshotLocked()
	complete := c.TradeCount >= v.cfg.CycleLength
	v.mu.Unlock()

	v.log.Info("[VAULT] trade registered",
		zap.String("symbol", sym),
		zap.String("category", string(category)),
		zap.Float64("pnl", pnl),
		zap.Int("trade", snap.TradeCount),
		zap.Int("of", v.cfg.CycleLength),
	)

	if complete {
		return v.RecalculateOnCycleComplete(ctx)
	}
	if err := v.store.SaveCycle(ctx, snap); err != nil {
		return errors.Wrap(err, "vault save")
	}
	return nil
}

// RecalculateOnCycleComplete закрывает цикл: новый стартовый банк = текущее эквити,
// маржа на сделку = банк * доля, история и счётчики обнуляются.
func (v *Vault) RecalculateOnCycleComplete(ctx context.Context) error {
	equity, eqErr := v.equity.Balance(ctx)

	v.mu.Lock()
	c := v.cycle
	if c.TradeCount < v.cfg.CycleLength {
		v.mu.Unlock()
		return nil
	}
	if eqErr != nil || equity <= 0 {
		// биржа молчит: считаем банк по собственной статистике
		equity = c.StartBankroll + c.NetProfit
	}
	prevNumber, prevNet := c.Number, c.NetProfit

	c.Number++
	c.StartBankroll = equity
	c.PerTradeMargin = equity * v.cfg.MarginFraction
	c.UsedSymbols = nil
	c.TradeCount = 0
	c.WinCount = 0
	c.LossCount = 0
	c.NetProfit = 0
	c.UpdatedAt = v.now()
	v.cycle = c
	snap := v.snapshotLocked()
	v.mu.Unlock()

	if eqErr != nil {
		v.log.Warn("[VAULT] equity read failed, using internal bankroll", zap.Error(eqErr))
	}
	v.log.Info("[VAULT] cycle complete",
		zap.Int("closed_cycle", prevNumber),
		zap.Float64("cycle_profit", prevNet),
		zap.Float64("new_bankroll", snap.StartBankroll),
		zap.Float64("per_trade_margin", snap.PerTradeMargin),
	)
	if err := v.store.SaveCycle(ctx, snap); err != nil {
		return errors.Wrap(err, "vault save")
	}
	return nil
}

func (v *Vault) IsSymbolLocked(symbol string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return IsSymbolLocked(v.cycle.UsedSymbols, symbol, v.cycle.NextIndex(), v.cycle.DragMode, v.cfg.PartialLock)
}

// IsTradingAllowed: false во время паузы (rest_until в будущем).
func (v *Vault) IsTradingAllowed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cycle.RestUntil.IsZero() || !v.now().Before(v.cycle.RestUntil)
}

func (v *Vault) ActivateRest(ctx context.Context, d time.Duration) error {
	return v.mutate(ctx, func(c *models.Cycle) { c.RestUntil = v.now().Add(d) })
}

func (v *Vault) SetDragMode(ctx context.Context, on bool) error {
	return v.mutate(ctx, func(c *models.Cycle) { c.DragMode = on })
}

func (v *Vault) SetCautiousMode(ctx context.Context, on bool) error {
	return v.mutate(ctx, func(c *models.Cycle) { c.CautiousMode = on })
}

// MinScore: порог скоринга; в осторожном режиме выше.
func (v *Vault) MinScore() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.cycle.CautiousMode {
		return v.cfg.CautiousScore
	}
	return v.cfg.MinScore
}

// PerTradeMargin: маржа на сделку текущего цикла (0, если банк ещё не известен).
func (v *Vault) PerTradeMargin() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cycle.PerTradeMargin
}

// RecommendedWithdrawal: доля прибыли цикла, которую стоит вывести.
func (v *Vault) RecommendedWithdrawal() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.cycle.NetProfit <= 0 {
		return 0
	}
	return v.cycle.NetProfit * v.cfg.WithdrawalShare
}

func (v *Vault) RecordWithdrawal(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return errors.Wrapf(models.ErrValidation, "withdrawal amount %.4f", amount)
	}
	return v.mutate(ctx, func(c *models.Cycle) { c.VaultTotal += amount })
}

func (v *Vault) mutate(ctx context.Context, fn func(c *models.Cycle)) error {
	v.mu.Lock()
	fn(&v.cycle)
	v.cycle.UpdatedAt = v.now()
	snap := v.snapshotLocked()
	v.mu.Unlock()
	return v.store.SaveCycle(ctx, snap)
}
