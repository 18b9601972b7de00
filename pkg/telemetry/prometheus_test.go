package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPromSink_Counters(t *testing.T) {
	sink := NewPromSink(prometheus.NewRegistry())

	sink.RecordTask("done", 1.5)
	sink.RecordTask("done", 0.2)
	sink.RecordTask("failed", 3.0)
	sink.RecordProviderCall("pA", "error", 0.1)
	sink.RecordProviderCall("pB", "success", 0.4)
	sink.RecordToolMapping("mapped", true, 0.001)
	sink.RecordCircuitTransition("provider:pA", "OPEN")
	sink.RecordEventDropped("agent.*")

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.TasksTotal.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.TasksTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.ProviderCallsTotal.WithLabelValues("pA", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.ToolMappingsTotal.WithLabelValues("mapped", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.CircuitTransitionsTotal.WithLabelValues("provider:pA", "OPEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.EventsDroppedTotal.WithLabelValues("agent.*")))
}

func TestPromSink_Gauges(t *testing.T) {
	sink := NewPromSink(prometheus.NewRegistry())

	sink.SetQueueDepth(7)
	sink.SetActiveWorkers(3)
	assert.Equal(t, 7.0, testutil.ToFloat64(sink.QueueDepth))
	assert.Equal(t, 3.0, testutil.ToFloat64(sink.ActiveWorkers))

	sink.SetQueueDepth(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.QueueDepth))
}

func TestPromSink_IndependentRegistries(t *testing.T) {
	a := NewPromSink(prometheus.NewRegistry())
	b := NewPromSink(prometheus.NewRegistry())

	a.RecordTask("done", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.TasksTotal.WithLabelValues("done")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TasksTotal.WithLabelValues("done")))
}

func TestNoopSinkSatisfiesInterface(t *testing.T) {
	var _ Sink = NewNoop()
	var _ Sink = NewPromSink(prometheus.NewRegistry())
}
