// Package prometheus implements the metrics collector port.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus.
type Collector struct {
	sessionsCreated   prometheus.Counter
	graphUpdates      *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
	ingestedFrames    prometheus.Counter
	subscribers       prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		sessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dspd_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		graphUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dspd_graph_updates_total",
				Help: "Total number of graph mutation attempts",
			},
			[]string{"op", "status"},
		),
		executions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dspd_executions_total",
				Help: "Total number of pipeline executions",
			},
			[]string{"status"},
		),
		executionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dspd_execution_duration_seconds",
				Help:    "Pipeline execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		ingestedFrames: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dspd_ingested_frames_total",
				Help: "Total number of audio frames ingested",
			},
		),
		subscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dspd_subscribers",
				Help: "Number of live update subscribers",
			},
		),
	}
}

// RecordSessionCreated implements ports.MetricsCollector.
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordGraphUpdate implements ports.MetricsCollector.
func (c *Collector) RecordGraphUpdate(op, status string) {
	c.graphUpdates.WithLabelValues(op, status).Inc()
}

// RecordExecution implements ports.MetricsCollector.
func (c *Collector) RecordExecution(status string, seconds float64) {
	c.executions.WithLabelValues(status).Inc()
	c.executionDuration.Observe(seconds)
}

// RecordIngestedFrames implements ports.MetricsCollector.
func (c *Collector) RecordIngestedFrames(frames int) {
	c.ingestedFrames.Add(float64(frames))
}

// IncSubscribers implements ports.MetricsCollector.
func (c *Collector) IncSubscribers() {
	c.subscribers.Inc()
}

// DecSubscribers implements ports.MetricsCollector.
func (c *Collector) DecSubscribers() {
	c.subscribers.Dec()
}

// Nop is a no-op collector for tests and wiring without metrics.
type Nop struct{}

func (Nop) RecordSessionCreated()              {}
func (Nop) RecordGraphUpdate(op, status string) {}
func (Nop) RecordExecution(string, float64)    {}
func (Nop) RecordIngestedFrames(int)           {}
func (Nop) IncSubscribers()                    {}
func (Nop) DecSubscribers()                    {}
