package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromSink exports runtime metrics through a Prometheus registry. Each
// runtime owns its registry so tests can spin up independent instances.
type PromSink struct {
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	ProviderCallsTotal *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec

	ToolExecutionsTotal *prometheus.CounterVec
	ToolLatency         *prometheus.HistogramVec

	ToolMappingsTotal  *prometheus.CounterVec
	ToolMappingLatency *prometheus.HistogramVec

	CircuitTransitionsTotal *prometheus.CounterVec
	EventsDroppedTotal      *prometheus.CounterVec

	QueueDepth    prometheus.Gauge
	ActiveWorkers prometheus.Gauge
}

// NewPromSink creates and registers all runtime metrics on reg.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	factory := promauto.With(reg)

	return &PromSink{
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_tasks_total",
				Help: "Total tasks by terminal status",
			},
			[]string{"status"}, // status: done, failed, cancelled, timed_out
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "praxis_task_duration_seconds",
				Help:    "Wall-clock task duration",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"status"},
		),
		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_provider_calls_total",
				Help: "Provider invocations by outcome",
			},
			[]string{"provider", "outcome"}, // outcome: success, error, skipped
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "praxis_provider_latency_seconds",
				Help:    "Provider call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		ToolExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_tool_executions_total",
				Help: "Tool executions by outcome",
			},
			[]string{"tool", "outcome"}, // outcome: success, error, aborted
		),
		ToolLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "praxis_tool_latency_seconds",
				Help:    "Tool execution latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		ToolMappingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_tool_mappings_total",
				Help: "Mapper resolutions by outcome and cache hit",
			},
			[]string{"outcome", "from_cache"},
		),
		ToolMappingLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "praxis_tool_mapping_latency_seconds",
				Help:    "Mapper resolution latency",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"outcome"},
		),
		CircuitTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_circuit_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"resource", "to"},
		),
		EventsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "praxis_events_dropped_total",
				Help: "Bus events dropped per subscriber pattern",
			},
			[]string{"pattern"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "praxis_queue_depth",
				Help: "Pending tasks waiting for a worker",
			},
		),
		ActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "praxis_active_workers",
				Help: "Workers currently processing a task",
			},
		),
	}
}

func (s *PromSink) RecordTask(status string, seconds float64) {
	s.TasksTotal.WithLabelValues(status).Inc()
	s.TaskDuration.WithLabelValues(status).Observe(seconds)
}

func (s *PromSink) RecordProviderCall(provider, outcome string, seconds float64) {
	s.ProviderCallsTotal.WithLabelValues(provider, outcome).Inc()
	s.ProviderLatency.WithLabelValues(provider).Observe(seconds)
}

func (s *PromSink) RecordToolExecution(tool, outcome string, seconds float64) {
	s.ToolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
	s.ToolLatency.WithLabelValues(tool).Observe(seconds)
}

func (s *PromSink) RecordToolMapping(outcome string, fromCache bool, seconds float64) {
	cache := "false"
	if fromCache {
		cache = "true"
	}
	s.ToolMappingsTotal.WithLabelValues(outcome, cache).Inc()
	s.ToolMappingLatency.WithLabelValues(outcome).Observe(seconds)
}

func (s *PromSink) RecordCircuitTransition(resource, to string) {
	s.CircuitTransitionsTotal.WithLabelValues(resource, to).Inc()
}

func (s *PromSink) RecordEventDropped(pattern string) {
	s.EventsDroppedTotal.WithLabelValues(pattern).Inc()
}

func (s *PromSink) SetQueueDepth(n int) {
	s.QueueDepth.Set(float64(n))
}

func (s *PromSink) SetActiveWorkers(n int) {
	s.ActiveWorkers.Set(float64(n))
}
