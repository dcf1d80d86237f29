// Package metrics provides the SDK's internal operational counters.
//
// Every tracer instance owns a private Prometheus registry: two
// tracers in one process must not fight over metric registration, and
// the SDK must never pollute a host application's default registry.
// Host applications that want to scrape these counters can mount the
// registry returned by Registry on their own promhttp handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the export pipeline and detection layer of one
// tracer instance.
type Metrics struct {
	registry *prometheus.Registry

	// SpansProcessed counts spans the processor finished.
	// Labels: event_type (model|chain|tool|session)
	SpansProcessed *prometheus.CounterVec

	// EventsExported counts export outcomes per sender.
	// Labels: exporter (otlp|events), status (ok|failed)
	EventsExported *prometheus.CounterVec

	// EventsDropped counts items that never reached the backend.
	// Labels: exporter, reason (queue_full|permanent|exhausted|cancelled|shutdown|disabled)
	EventsDropped *prometheus.CounterVec

	// ExportRetries counts retried batch sends.
	// Labels: exporter
	ExportRetries *prometheus.CounterVec

	// ExportDuration measures batch send latency in seconds.
	// Labels: exporter
	// Buckets: 5ms to 30s
	ExportDuration *prometheus.HistogramVec

	// QueueDepth is the current number of queued items per exporter.
	// Labels: exporter
	QueueDepth *prometheus.GaugeVec

	// Detections counts provider detection outcomes.
	// Labels: instrumentor (traceloop|openinference|openlit|unknown), provider
	Detections *prometheus.CounterVec
}

// New creates the metric set on a fresh private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		SpansProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeyhive_sdk_spans_processed_total",
				Help: "Total spans processed by event type",
			},
			[]string{"event_type"},
		),

		EventsExported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeyhive_sdk_events_exported_total",
				Help: "Total export attempts by exporter and status",
			},
			[]string{"exporter", "status"},
		),

		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeyhive_sdk_events_dropped_total",
				Help: "Total items dropped before reaching the backend, by reason",
			},
			[]string{"exporter", "reason"},
		),

		ExportRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeyhive_sdk_export_retries_total",
				Help: "Total retried batch sends",
			},
			[]string{"exporter"},
		),

		ExportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "honeyhive_sdk_export_duration_seconds",
				Help:    "Batch send latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"exporter"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "honeyhive_sdk_queue_depth",
				Help: "Items currently queued per exporter",
			},
			[]string{"exporter"},
		),

		Detections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeyhive_sdk_detections_total",
				Help: "Provider detection outcomes by instrumentor and provider",
			},
			[]string{"instrumentor", "provider"},
		),
	}
}

// Registry returns the private registry for host applications that
// want to expose these counters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSpan counts one processed span.
func (m *Metrics) RecordSpan(eventType string) {
	m.SpansProcessed.WithLabelValues(eventType).Inc()
}

// RecordExport counts a finished batch send and its latency.
func (m *Metrics) RecordExport(exporter, status string, seconds float64) {
	m.EventsExported.WithLabelValues(exporter, status).Inc()
	m.ExportDuration.WithLabelValues(exporter).Observe(seconds)
}

// RecordDrop counts n items dropped for the given reason.
func (m *Metrics) RecordDrop(exporter, reason string, n int) {
	if n <= 0 {
		return
	}
	m.EventsDropped.WithLabelValues(exporter, reason).Add(float64(n))
}

// RecordRetry counts one retried send.
func (m *Metrics) RecordRetry(exporter string) {
	m.ExportRetries.WithLabelValues(exporter).Inc()
}

// SetQueueDepth records the current queue occupancy.
func (m *Metrics) SetQueueDepth(exporter string, depth int) {
	m.QueueDepth.WithLabelValues(exporter).Set(float64(depth))
}

// RecordDetection counts one detection outcome.
func (m *Metrics) RecordDetection(instrumentor, provider string) {
	m.Detections.WithLabelValues(instrumentor, provider).Inc()
}
