// Package runner: фоновые циклы процесса, не принадлежащие одному домену.
package runner

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/models"
)

type StatusSource interface {
	Status() models.BankrollStatus
}

type FlowSource interface {
	FlowSnapshot() map[string]float64
}

type CVDPublisher interface {
	PublishCVD(ctx context.Context, snapshot map[string]float64) error
}

type HealthState interface {
	Beat(t time.Time, occupied int)
	SetSafeMode(v bool)
	WSConnected() bool
}

type SafeModer interface {
	SafeMode() bool
}

// Heartbeat: периодическая сводка: лог, отметка в health, CVD в Redis,
// уведомление о входе в safe mode.
type Heartbeat struct {
	status   StatusSource
	flow     FlowSource
	cvd      CVDPublisher
	health   HealthState
	exec     SafeModer
	notifier bankroll.Notifier
	log      *zap.Logger
	now      func() time.Time

	wasSafe bool
}

func NewHeartbeat(status StatusSource, flow FlowSource, cvd CVDPublisher, health HealthState,
	exec SafeModer, n bankroll.Notifier, log *zap.Logger) *Heartbeat {
	return &Heartbeat{
		status:   status,
		flow:     flow,
		cvd:      cvd,
		health:   health,
		exec:     exec,
		notifier: n,
		log:      log,
		now:      time.Now,
	}
}

// Beat вызывается из одного цикла; wasSafe без замка.
func (h *Heartbeat) Beat(ctx context.Context) error {
	st := h.status.Status()
	safe := h.exec.SafeMode()
	if safe && !h.wasSafe {
		h.notifier.Notify(ctx, "⛔️ Safe mode: exchange writes disabled, check API keys")
	}
	h.wasSafe = safe

	h.health.SetSafeMode(safe)
	h.health.Beat(h.now(), st.OccupiedSlots)

	flow := h.flow.FlowSnapshot()
	h.log.Info("[HEARTBEAT]",
		zap.String("mode", string(st.Mode)),
		zap.Int("occupied", st.OccupiedSlots),
		zap.Int("risk_free", st.RiskFreeSlots),
		zap.Float64("risk", st.RealRisk),
		zap.Float64("balance", st.Balance),
		zap.Bool("ws", h.health.WSConnected()),
		zap.Bool("safe_mode", safe),
		zap.Int("flow_symbols", len(flow)),
	)
	if err := h.cvd.PublishCVD(ctx, flow); err != nil {
		return errors.Wrap(err, "heartbeat: publish cvd")
	}
	return nil
}
