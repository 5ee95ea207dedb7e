package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"slot_trader/internal/modules/config"
	"slot_trader/pkg/tracing"
)

func Module() fx.Option {
	return fx.Module("tracing",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
				tracing.SetServiceName("slot_trader")
				tracer, closeFn, err := tracing.InitTracer(cfg.Tracing)
				if err != nil {
					return nil, err
				}
				if cfg.Tracing.Enabled {
					log.Info("[TRACE] jaeger tracer ready", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
				}
				lc.Append(fx.Hook{OnStop: func(context.Context) error { return closeFn() }})
				return tracer, nil
			},
		),
		fx.Invoke(func(opentracing.Tracer) {}),
	)
}
