package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_cycles_total",
		Help: "Evaluation cycles by agent and outcome (ok, fetch_failed, panic)",
	}, []string{"agent", "outcome"})
	TransitionsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_transitions_applied_total",
		Help: "Status updates accepted by the record store",
	}, []string{"agent", "from", "to"})
	UpdateFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_update_failures_total",
		Help: "Status updates that failed and will be retried next cycle",
	}, []string{"agent"})
	UpdateConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_update_conflicts_total",
		Help: "Conditional updates rejected because the record moved on",
	}, []string{"agent"})
	RecordsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_records_skipped_total",
		Help: "Malformed records ignored during a cycle",
	}, []string{"agent"})
	CycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_cycle_duration_seconds",
		Help:    "Wall time of one fetch-evaluate-update pass",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})
	ConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_consecutive_failed_cycles",
		Help: "Failed cycles since the last healthy one",
	}, []string{"agent"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			CyclesTotal,
			TransitionsApplied,
			UpdateFailures,
			UpdateConflicts,
			RecordsSkipped,
			CycleDuration,
			ConsecutiveFailures,
		)
	})
	return promhttp.Handler()
}
