// Package metric exposes Prometheus metrics for rule executions and status
// transitions.
package metric

import (
	"context"
	"net/http"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config tunes the metrics module.
type Config struct {
	Namespace string    `yaml:"namespace" json:"namespace"`
	Buckets   []float64 `yaml:"buckets" json:"buckets"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "ruleengine",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
	}
}

// RuleMetrics implements ruleengine.MetricsRecorder over a dedicated
// Prometheus registry. It is also a modular module providing itself as the
// "ruleengine.metrics" service.
type RuleMetrics struct {
	name     string
	registry *prometheus.Registry

	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	status     *prometheus.GaugeVec

	logger modular.Logger
}

// New creates the metrics module.
func New(name string, cfg Config) *RuleMetrics {
	registry := prometheus.NewRegistry()
	m := &RuleMetrics{
		name:     name,
		registry: registry,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "rule_executions_total",
			Help:      "Rule executions by outcome.",
		}, []string{"rule", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "rule_execution_duration_seconds",
			Help:      "Rule execution duration.",
			Buckets:   cfg.Buckets,
		}, []string{"rule"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "rule_status",
			Help:      "Current rule status (1 for the active status).",
		}, []string{"rule", "status"}),
	}
	registry.MustRegister(m.executions, m.duration, m.status)
	return m
}

// RecordExecution implements ruleengine.MetricsRecorder.
func (m *RuleMetrics) RecordExecution(ruleUID, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(ruleUID, outcome).Inc()
	m.duration.WithLabelValues(ruleUID).Observe(elapsed.Seconds())
}

// RecordStatus implements ruleengine.MetricsRecorder. The previous status
// gauges of the rule are reset so exactly one status reads 1.
func (m *RuleMetrics) RecordStatus(ruleUID, status string) {
	if m == nil {
		return
	}
	for _, s := range []string{"UNINITIALIZED", "INITIALIZING", "IDLE", "RUNNING"} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.status.WithLabelValues(ruleUID, s).Set(v)
	}
}

// Handler serves the metrics in Prometheus exposition format.
func (m *RuleMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Name implements modular.Module.
func (m *RuleMetrics) Name() string { return m.name }

// Init implements modular.Module.
func (m *RuleMetrics) Init(app modular.Application) error {
	m.logger = app.Logger()
	return app.RegisterService(m.name, m)
}

// Start implements modular.Startable.
func (m *RuleMetrics) Start(context.Context) error { return nil }

// Stop implements modular.Stoppable.
func (m *RuleMetrics) Stop(context.Context) error { return nil }

// ProvidesServices implements modular.ServiceAware.
func (m *RuleMetrics) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: m.name, Description: "Rule engine Prometheus metrics", Instance: m},
	}
}

// RequiresServices implements modular.ServiceAware.
func (m *RuleMetrics) RequiresServices() []modular.ServiceDependency { return nil }
