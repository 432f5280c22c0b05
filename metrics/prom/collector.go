// Package prom exports reconciliation metrics to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c0deZ3R0/listsync/synckit"
)

const namespace = "listsync"

var _ synckit.MetricsCollector = (*Collector)(nil)

var states = []synckit.State{
	synckit.StateIdle,
	synckit.StateCheckingAccount,
	synckit.StateUnavailable,
	synckit.StateAvailable,
	synckit.StateSyncing,
	synckit.StateAwaitingDecision,
	synckit.StateError,
}

// Collector implements synckit.MetricsCollector on a Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	duration   *prometheus.HistogramVec
	operations *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	errors     *prometheus.CounterVec
	state      *prometheus.GaugeVec
}

// NewCollector registers the metrics on reg, or on a fresh registry when
// reg is nil.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of sync, resolve and import runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_applied_total",
				Help:      "Total number of applied plan operations",
			},
			[]string{"kind"},
		),
		conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_total",
				Help:      "Total number of conflicts found by plans",
			},
			[]string{"kind"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed runs",
			},
			[]string{"operation", "kind"},
		),
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Current orchestrator state, 1 for the active state",
			},
			[]string{"state"},
		),
	}
	c.RecordState(string(synckit.StateIdle))
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordSyncDuration(operation string, duration time.Duration) {
	c.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordOperations(kind string, count int) {
	c.operations.WithLabelValues(kind).Add(float64(count))
}

func (c *Collector) RecordConflicts(kind string, count int) {
	c.conflicts.WithLabelValues(kind).Add(float64(count))
}

func (c *Collector) RecordSyncErrors(operation string, errorKind string) {
	if errorKind == "" {
		errorKind = "other"
	}
	c.errors.WithLabelValues(operation, errorKind).Inc()
}

func (c *Collector) RecordState(state string) {
	for _, s := range states {
		v := 0.0
		if string(s) == state {
			v = 1
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}
}
