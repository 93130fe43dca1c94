// Package metrics exposes the Prometheus instrumentation for the scan engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds every collector the engine emits.
type Metrics struct {
	ActiveScans prometheus.Gauge
	ScansTotal  *prometheus.CounterVec // terminal status: partial|complete

	EvaluatorDuration *prometheus.HistogramVec // strategy, outcome
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	LookupResolutions *prometheus.CounterVec // path: fast|primary|fallback|user_latest|miss
	StoreRetries      prometheus.Counter
}

// New builds and registers the collectors on their own registry so a worker
// can expose them without colliding with the default global registry.
func New() (*Metrics, *prometheus.Registry) {
	m := &Metrics{
		ActiveScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oppscan_active_scans",
			Help: "Number of scans currently executing in this worker",
		}),
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oppscan_scans_total",
			Help: "Scans finished by terminal status",
		}, []string{"status"}),
		EvaluatorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oppscan_evaluator_duration_seconds",
			Help:    "Wall-clock duration of individual strategy evaluations",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}, []string{"strategy", "outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_cache_hits_total",
			Help: "Result cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_cache_misses_total",
			Help: "Result cache misses",
		}),
		LookupResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oppscan_lookup_resolutions_total",
			Help: "Scan id resolutions by lookup path",
		}, []string{"path"}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_store_retries_total",
			Help: "KV operations retried after a reconnect ping",
		}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.ActiveScans, m.ScansTotal, m.EvaluatorDuration,
		m.CacheHits, m.CacheMisses, m.LookupResolutions, m.StoreRetries,
	)
	return m, reg
}

// RecordLookup satisfies the lookup registry's recorder hook.
func (m *Metrics) RecordLookup(path string) {
	m.LookupResolutions.WithLabelValues(path).Inc()
}

// ObserveEvaluator records one strategy evaluation.
func (m *Metrics) ObserveEvaluator(strategy, outcome string, d time.Duration) {
	m.EvaluatorDuration.WithLabelValues(strategy, outcome).Observe(d.Seconds())
}

// ActiveScanCount reads the current gauge value, used by the health endpoint.
func (m *Metrics) ActiveScanCount() float64 {
	var pb dto.Metric
	if err := m.ActiveScans.Write(&pb); err != nil {
		return 0
	}
	return pb.GetGauge().GetValue()
}
