// Package metrics: метрики Prometheus, отдаются health-модулем на /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_admissions_total",
			Help: "Admission attempts by result (admitted|denied|failed)",
		},
		[]string{"result", "category"},
	)
	Closes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_closes_total",
			Help: "Closed slots by reason",
		},
		[]string{"reason", "mode"},
	)
	RealRisk = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slot_real_risk",
			Help: "Margin fraction currently at risk (risk-bearing slots plus pending)",
		},
	)
	OccupiedSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slot_occupied",
			Help: "Occupied slots",
		},
	)
	Balance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slot_balance_usdt",
			Help: "Last known account balance",
		},
	)
	ReconcileMutations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slot_reconcile_mutations_total",
			Help: "Slot mutations performed by reconciliation",
		},
	)
	Candidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorer_candidates_total",
			Help: "Scored candidates by outcome (emitted|rejected|below_threshold|cooldown)",
		},
		[]string{"outcome"},
	)
	LoopErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loop_iteration_errors_total",
			Help: "Recovered errors in periodic loops",
		},
		[]string{"loop"},
	)
)

func init() {
	prometheus.MustRegister(Admissions, Closes, ReconcileMutations, Candidates, LoopErrors)
	prometheus.MustRegister(RealRisk, OccupiedSlots, Balance)
}
