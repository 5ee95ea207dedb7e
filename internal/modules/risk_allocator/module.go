package risk_allocator

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/exchange"
	"slot_trader/internal/helper"
	"slot_trader/internal/modules/config"
	okx "slot_trader/internal/modules/okx_client/service"
	paper "slot_trader/internal/modules/paper/service"
	"slot_trader/internal/vault"
)

type allocatorIn struct {
	fx.In

	Cfg      *config.Config
	Store    bankroll.SlotStore
	Exec     exchange.Executor
	Market   exchange.MarketData
	Vault    *vault.Vault
	Pending  *bankroll.Reservations
	Resetter *bankroll.Resetter
	Locker   bankroll.CloseLocker
	Notifier bankroll.Notifier
	Log      *zap.Logger
}

func newAllocator(in allocatorIn) *bankroll.Allocator {
	return bankroll.NewAllocator(in.Cfg.Bankroll, bankroll.Deps{
		Mode:     in.Cfg.Mode,
		Store:    in.Store,
		Exec:     in.Exec,
		Market:   in.Market,
		Margin:   in.Vault,
		Pending:  in.Pending,
		Resetter: in.Resetter,
		Locker:   in.Locker,
		Notifier: in.Notifier,
		Log:      in.Log.Named("alloc"),
	})
}

// newExecutor выбирает место исполнения один раз при старте.
func newExecutor(cfg *config.Config, live *okx.Client, sim *paper.Engine, log *zap.Logger) exchange.Executor {
	if cfg.Live() {
		log.Info("[ALLOC] executor: okx", zap.Bool("safe_mode", live.SafeMode()))
		return live
	}
	log.Info("[ALLOC] executor: paper")
	return sim
}

func newReconciler(cfg *config.Config, st bankroll.SlotStore, ex exchange.Executor, sim *paper.Engine,
	pending *bankroll.Reservations, r *bankroll.Resetter, log *zap.Logger) *bankroll.Reconciler {
	var ledger bankroll.SimLedger
	if !cfg.Live() {
		ledger = sim
	}
	return bankroll.NewReconciler(cfg.Bankroll, cfg.Mode, st, ex, ledger, pending, r, log.Named("sync"))
}

// Module: аллокатор слотов, сверка, жёсткий сброс и сопровождение живых позиций.
func Module() fx.Option {
	return fx.Module("risk_allocator",
		fx.Provide(
			bankroll.NewReservations,
			newExecutor,
			func(cfg *config.Config, st bankroll.SlotStore, v *vault.Vault, n bankroll.Notifier, log *zap.Logger) *bankroll.Resetter {
				return bankroll.NewResetter(cfg.Mode, st, v, n, log.Named("reset"))
			},
			newAllocator,
			newReconciler,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, a *bankroll.Allocator, rec *bankroll.Reconciler,
			r *bankroll.Resetter, sim *paper.Engine, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(start context.Context) error {
					// первая сверка до скана, чтобы слоты совпали с биржей
					if n, err := rec.Reconcile(start); err != nil {
						log.Warn("[SYNC] startup reconcile failed", zap.Error(err))
					} else if n > 0 {
						log.Info("[SYNC] startup reconcile", zap.Int("mutations", n))
					}
					go a.ReaperLoop(ctx, rec)

					if cfg.Live() {
						go helper.RunEvery(ctx, log, "guardian", cfg.Runner.GuardianInterval, func(ctx context.Context) error {
							return a.Guard(ctx, cfg.Protocol)
						})
					} else {
						go r.Consume(ctx, sim.Closed(), sim.ResetDone)
					}
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
