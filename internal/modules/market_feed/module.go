package market_feed

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/exchange"
	"slot_trader/internal/modules/market_feed/service"
	okx "slot_trader/internal/modules/okx_client/service"
	redis "slot_trader/internal/modules/redis/service"
)

// Module отдаёт *service.Feed как exchange.MarketData для аллокатора и paper-движка.
func Module() fx.Option {
	return fx.Module("market_feed",
		fx.Provide(
			func(rest *okx.Client, cache *redis.Cache, log *zap.Logger) *service.Feed {
				return service.NewFeed(rest, cache, 5*time.Second, log.Named("feed"))
			},
			func(f *service.Feed) exchange.MarketData { return f },
		),
	)
}
