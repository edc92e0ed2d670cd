// Package metrics holds the engine's Prometheus instrumentation. Every method is
// safe on a nil *Engine so components can run uninstrumented.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Engine struct {
	solves          *prometheus.CounterVec
	solveDuration   *prometheus.HistogramVec
	triggers        *prometheus.CounterVec
	reoptimizations *prometheus.CounterVec
	monitored       prometheus.Gauge
	webhooks        *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
}

// NewRegistry returns a registry with the Go and process collectors attached.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// New registers the engine metrics on reg. A nil reg yields a no-op Engine.
func New(reg prometheus.Registerer) *Engine {
	if reg == nil {
		return &Engine{}
	}
	e := &Engine{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cityroute_solves_total",
			Help: "Route solves by winning algorithm, fallback use and outcome.",
		}, []string{"algorithm", "fallback", "success"}),
		solveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cityroute_solve_duration_seconds",
			Help:    "Wall-clock duration of route solves.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"algorithm"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cityroute_triggers_total",
			Help: "Re-optimization triggers detected by type and severity.",
		}, []string{"type", "severity"}),
		reoptimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cityroute_reoptimizations_total",
			Help: "Incremental re-optimizations by outcome.",
		}, []string{"outcome"}),
		monitored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cityroute_monitored_routes",
			Help: "Routes currently watched by the monitor.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cityroute_webhook_deliveries_total",
			Help: "Webhook deliveries by event kind and status.",
		}, []string{"event_kind", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cityroute_webhook_delivery_latency_ms",
			Help:    "Webhook delivery latency in ms.",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
		}, []string{"event_kind", "status"}),
	}
	reg.MustRegister(e.solves, e.solveDuration, e.triggers, e.reoptimizations, e.monitored, e.webhooks, e.webhookLatency)
	return e
}

func (e *Engine) ObserveSolve(algorithm string, fallback, success bool, d time.Duration) {
	if e == nil || e.solves == nil {
		return
	}
	algorithm = label(algorithm)
	e.solves.WithLabelValues(algorithm, strconv.FormatBool(fallback), strconv.FormatBool(success)).Inc()
	e.solveDuration.WithLabelValues(algorithm).Observe(d.Seconds())
}

func (e *Engine) IncTrigger(triggerType, severity string) {
	if e == nil || e.triggers == nil {
		return
	}
	e.triggers.WithLabelValues(label(triggerType), label(severity)).Inc()
}

// IncReoptimization counts an outcome: success, failed, rate_limited or no_routes.
func (e *Engine) IncReoptimization(outcome string) {
	if e == nil || e.reoptimizations == nil {
		return
	}
	e.reoptimizations.WithLabelValues(label(outcome)).Inc()
}

func (e *Engine) SetMonitoredRoutes(n int) {
	if e == nil || e.monitored == nil {
		return
	}
	e.monitored.Set(float64(n))
}

func (e *Engine) ObserveWebhook(kind, status string, d time.Duration) {
	if e == nil || e.webhooks == nil {
		return
	}
	e.webhooks.WithLabelValues(label(kind), label(status)).Inc()
	e.webhookLatency.WithLabelValues(label(kind), label(status)).Observe(float64(d.Milliseconds()))
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
