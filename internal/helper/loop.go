package helper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"slot_trader/internal/metrics"
)

// RunEvery крутит fn с фиксированным интервалом до отмены ctx.
// Ошибка или паника одной итерации логируется и не останавливает цикл.
func RunEvery(ctx context.Context, log *zap.Logger, name string, every time.Duration, fn func(ctx context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		RunOnce(ctx, log, name, fn)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce: одна изолированная итерация периодической задачи.
func RunOnce(ctx context.Context, log *zap.Logger, name string, fn func(ctx context.Context) error) {
	defer func() {
		if p := recover(); p != nil {
			metrics.LoopErrors.WithLabelValues(name).Inc()
			log.Error("[LOOP] iteration panic", zap.String("loop", name), zap.String("panic", fmt.Sprint(p)))
		}
	}()
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		metrics.LoopErrors.WithLabelValues(name).Inc()
		log.Warn("[LOOP] iteration failed", zap.String("loop", name), zap.Error(err))
	}
}
