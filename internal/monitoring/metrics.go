// Package monitoring exposes prometheus collectors for processing runs.
//
// Collectors live in a private registry so several processors (and tests)
// can coexist without clashing on the default registerer. A nil *Metrics
// is valid and records nothing.
package monitoring

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Point kinds recorded by ObservePoints.
const (
	KindOriginal = "original"
	KindFiltered = "filtered"
)

// Run outcomes recorded by ObserveRun.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration    *prometheus.HistogramVec
	points           *prometheus.CounterVec
	kmeansIterations prometheus.Gauge
	runs             *prometheus.CounterVec
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudscan_stage_duration_seconds",
				Help:    "Wall time spent in each processing stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		points: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscan_points_total",
				Help: "Points seen by the processor, by kind",
			},
			[]string{"kind"},
		),
		kmeansIterations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloudscan_kmeans_iterations",
				Help: "Assignment passes of the most recent winning k-means run",
			},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudscan_runs_total",
				Help: "Processing runs by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(m.stageDuration, m.points, m.kmeansIterations, m.runs)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveStage records the duration of one stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObservePoints adds n to the counter for kind.
func (m *Metrics) ObservePoints(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.points.WithLabelValues(kind).Add(float64(n))
}

// SetKMeansIterations records the iteration count of the winning run.
func (m *Metrics) SetKMeansIterations(n int) {
	if m == nil {
		return
	}
	m.kmeansIterations.Set(float64(n))
}

// ObserveRun counts one run. A nil err counts as OutcomeOK.
func (m *Metrics) ObserveRun(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes every collector in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return fmt.Errorf("write metrics textfile: no metrics configured")
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
