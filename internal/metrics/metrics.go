// Package metrics exposes the scheduler's Prometheus gauges and counters:
// rules currently running, cache hit/miss totals, and ready-queue depth.
//
// Forge doesn't carry AleutianLocal's full OpenTelemetry stack (it has no
// network service to export traces for), but reuses the same
// prometheus/client_golang dependency that repository's telemetry package pulls in
// (services/trace/telemetry/telemetry.go), registering directly against a
// client_golang Registry and serving it with promhttp instead of going
// through an OTel bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the scheduler's metric instruments.
type Recorder struct {
	registry *prometheus.Registry

	rulesRunning prometheus.Gauge
	rulesTotal   *prometheus.CounterVec
	queueDepth   prometheus.Gauge
}

// New creates a Recorder registered against a fresh registry, isolated
// from prometheus's global default registry so multiple Engine instances
// in one process (as in tests) never collide on metric names.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		rulesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forge",
			Name:      "rules_running",
			Help:      "Number of rules currently executing or materializing from cache.",
		}),
		rulesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "rules_total",
			Help:      "Rules reaching a terminal outcome, partitioned by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forge",
			Name:      "ready_queue_depth",
			Help:      "Number of rules currently ready to dispatch.",
		}),
	}

	reg.MustRegister(r.rulesRunning, r.rulesTotal, r.queueDepth)
	return r
}

// RuleStarted increments the in-flight rule gauge.
func (r *Recorder) RuleStarted() { r.rulesRunning.Inc() }

// RecordRule records a rule reaching a terminal outcome (the scheduler's
// Outcome.String() value) and decrements the in-flight gauge.
func (r *Recorder) RecordRule(outcome string) {
	r.rulesRunning.Dec()
	r.rulesTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth reports the current ready-queue length.
func (r *Recorder) SetQueueDepth(n int) { r.queueDepth.Set(float64(n)) }

// Handler returns the promhttp handler serving this Recorder's registry,
// served on :9090 by the CLI when --metrics is set.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
