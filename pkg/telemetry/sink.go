// Package telemetry defines the metrics sink the runtime emits through.
// The core only reports named counters, histograms, and gauges; the concrete
// exporter lives behind the Sink interface so tests and embedders can swap
// it out.
package telemetry

// Sink receives runtime measurements.
type Sink interface {
	// RecordTask records a finished task with its terminal status and
	// wall-clock duration in seconds.
	RecordTask(status string, seconds float64)

	// RecordProviderCall records one provider invocation outcome.
	RecordProviderCall(provider, outcome string, seconds float64)

	// RecordToolExecution records one tool execution outcome.
	RecordToolExecution(tool, outcome string, seconds float64)

	// RecordToolMapping records one mapper resolution.
	RecordToolMapping(outcome string, fromCache bool, seconds float64)

	// RecordCircuitTransition records a breaker state change.
	RecordCircuitTransition(resource, to string)

	// RecordEventDropped records a dropped bus event for a subscriber
	// pattern.
	RecordEventDropped(pattern string)

	// SetQueueDepth reports the current pending task count.
	SetQueueDepth(n int)

	// SetActiveWorkers reports the number of busy workers.
	SetActiveWorkers(n int)
}

// Noop discards all measurements.
type Noop struct{}

// NewNoop returns a sink that discards everything.
func NewNoop() Noop { return Noop{} }

func (Noop) RecordTask(string, float64)                  {}
func (Noop) RecordProviderCall(string, string, float64)  {}
func (Noop) RecordToolExecution(string, string, float64) {}
func (Noop) RecordToolMapping(string, bool, float64)     {}
func (Noop) RecordCircuitTransition(string, string)      {}
func (Noop) RecordEventDropped(string)                   {}
func (Noop) SetQueueDepth(int)                           {}
func (Noop) SetActiveWorkers(int)                        {}
