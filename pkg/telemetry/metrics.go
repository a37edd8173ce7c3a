package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfroyo/moddeps/pkg/engine"
)

// Resolution results used as the result label.
const (
	ResolutionOK = "ok"
)

// Metrics provides Prometheus metrics for resolution and install runs. It
// implements engine.Recorder.
type Metrics struct {
	config MetricsConfig

	installsTotal    *prometheus.CounterVec
	installDuration  *prometheus.HistogramVec
	resolutionsTotal *prometheus.CounterVec
	planSize         prometheus.Gauge
	runsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		installsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_total",
				Help:      "Plan entries processed, by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		installDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "install_duration_seconds",
				Help:      "Duration of module installs and upgrades in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Dependency resolutions, by result",
			},
			[]string{"result"},
		),
		planSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plan_size",
				Help:      "Number of modules in the most recent plan",
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Install runs, by final status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.installsTotal,
		m.installDuration,
		m.resolutionsTotal,
		m.planSize,
		m.runsTotal,
	)

	return m, nil
}

// Registry returns the registry metrics are registered with, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordResolution counts one resolution. The result label is the error kind,
// or "ok" on success.
func (m *Metrics) RecordResolution(plan *engine.ResolutionPlan, err error) {
	if m.resolutionsTotal == nil {
		return
	}
	if err != nil {
		m.resolutionsTotal.WithLabelValues(string(engine.KindOf(err))).Inc()
		return
	}
	m.resolutionsTotal.WithLabelValues(ResolutionOK).Inc()
	if plan != nil {
		m.planSize.Set(float64(plan.Len()))
	}
}

// RunStarted records the plan size.
func (m *Metrics) RunStarted(_ context.Context, _ *engine.InstallReport, plan *engine.ResolutionPlan) error {
	if m.planSize == nil {
		return nil
	}
	m.planSize.Set(float64(plan.Len()))
	return nil
}

// OutcomeRecorded counts one processed entry.
func (m *Metrics) OutcomeRecorded(_ context.Context, _ *engine.InstallReport, outcome engine.Outcome) error {
	if m.installsTotal == nil {
		return nil
	}
	m.installsTotal.WithLabelValues(string(outcome.Operation), string(outcome.Status)).Inc()
	if outcome.Operation.Mutates() && outcome.Duration > 0 {
		m.installDuration.WithLabelValues(string(outcome.Operation)).Observe(outcome.Duration.Seconds())
	}
	return nil
}

// RunFinished counts the run by its final status.
func (m *Metrics) RunFinished(_ context.Context, report *engine.InstallReport) error {
	if m.runsTotal == nil {
		return nil
	}
	m.runsTotal.WithLabelValues(string(report.Status())).Inc()
	return nil
}

// WriteTextfile writes all metrics to the configured textfile. It does
// nothing when metrics are disabled or no textfile is set.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
