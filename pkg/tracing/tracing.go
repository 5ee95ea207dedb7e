package tracing

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/uber/jaeger-client-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
	"go.uber.org/zap"
)

var (
	serviceName = "default"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// InitTracer ставит глобальный jaeger-трейсер. Выключенный трейсинг оставляет NoopTracer,
// и все StartSpanFromContext в коде остаются бесплатными.
func InitTracer(conf Config) (opentracing.Tracer, func() error, error) {
	if !conf.Enabled {
		t := opentracing.NoopTracer{}
		opentracing.SetGlobalTracer(t)
		return t, func() error { return nil }, nil
	}

	cfg := &jCfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(metrics.NullFactory),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "jaeger tracer")
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, closer.Close, nil
}

// TraceField: trace id текущего спана для логов; пустое поле, если спана нет.
func TraceField(ctx context.Context) zap.Field {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return zap.Skip()
	}
	if sc, ok := span.Context().(jaeger.SpanContext); ok {
		return zap.String("trace_id", sc.TraceID().String())
	}
	return zap.Skip()
}
