package synckit

import "time"

// MetricsCollector provides hooks for collecting reconciliation metrics
type MetricsCollector interface {
	// RecordSyncDuration records how long a sync, resolve or import run took
	RecordSyncDuration(operation string, duration time.Duration)

	// RecordOperations records applied plan operations of one kind
	RecordOperations(kind string, count int)

	// RecordConflicts records conflicts of one kind found by a plan
	RecordConflicts(kind string, count int)

	// RecordSyncErrors records failed runs by error kind
	RecordSyncErrors(operation string, errorKind string)

	// RecordState records the orchestrator entering a state
	RecordState(state string)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSyncDuration(operation string, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordOperations(kind string, count int)                     {}
func (n *NoOpMetricsCollector) RecordConflicts(kind string, count int)                      {}
func (n *NoOpMetricsCollector) RecordSyncErrors(operation string, errorKind string)         {}
func (n *NoOpMetricsCollector) RecordState(state string)                                    {}
