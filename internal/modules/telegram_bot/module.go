package telegram

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/modules/config"
	"slot_trader/internal/modules/telegram_bot/service"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger) *service.Telegram {
				return service.NewTelegram(service.Config{
					Token:  cfg.Telegram.Token,
					ChatID: cfg.Telegram.ChatID,
				}, log.Named("telegram"))
			},
			func(t *service.Telegram) bankroll.Notifier { return t },
		),
		fx.Invoke(
			registerCommands,
			func(lc fx.Lifecycle, t *service.Telegram) {
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						go t.Run(ctx)
						go t.Listen(ctx)
						return nil
					},
					OnStop: func(context.Context) error {
						cancel()
						return nil
					},
				})
			},
		),
	)
}
