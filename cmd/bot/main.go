package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"slot_trader/internal/modules/bootstrap"
	"slot_trader/internal/modules/config"
	"slot_trader/internal/modules/cycle_vault"
	"slot_trader/internal/modules/health"
	"slot_trader/internal/modules/market_feed"
	"slot_trader/internal/modules/okx_client"
	"slot_trader/internal/modules/okx_websocket"
	"slot_trader/internal/modules/paper"
	"slot_trader/internal/modules/postgres"
	"slot_trader/internal/modules/redis"
	"slot_trader/internal/modules/risk_allocator"
	"slot_trader/internal/modules/slot_store"
	"slot_trader/internal/modules/strategy"
	telegram "slot_trader/internal/modules/telegram_bot"
	"slot_trader/internal/modules/tracing"
	"slot_trader/internal/runner"
	"slot_trader/pkg/logger"
	"slot_trader/pkg/workpool"
)

func main() {
	logger.SetServiceName("slot_trader")

	app := fx.New(
		fx.Provide(
			func(cfg *config.Config) (*zap.Logger, error) {
				return logger.New(cfg.Log)
			},
			func(cfg *config.Config) *workpool.Pool {
				return workpool.New(cfg.Pool)
			},
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		tracing.Module(),
		health.Module(),
		postgres.Module(),
		redis.Module(),
		slot_store.Module(),
		okx_client.Module(),
		market_feed.Module(),
		telegram.Module(),
		paper.Module(),
		cycle_vault.Module(),
		risk_allocator.Module(),
		strategy.Module(),
		okx_websocket.Module(),
		bootstrap.Module(),
		runner.Module(),
	)
	app.Run()
}
