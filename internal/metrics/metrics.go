// Package metrics exports Prometheus metrics for the worker pipeline: a
// struct of pre-registered vectors plus a Handler() for promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exposes queue, scheduler, admission, and handler metrics for
// the worker pipeline.
type Exporter struct {
	registry *prometheus.Registry

	schedulerDepth   prometheus.Gauge
	inFlight         prometheus.Gauge
	tasksCompleted   *prometheus.CounterVec
	tasksFailed      *prometheus.CounterVec
	attempts         *prometheus.HistogramVec
	handlerLatency   *prometheus.HistogramVec
	brokerQueueDepth prometheus.Gauge
}

// NewExporter constructs and registers all metrics on a fresh registry.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()

	e := &Exporter{
		registry: reg,
		schedulerDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskqueue_scheduler_depth",
			Help: "Number of scheduled tasks currently buffered in the priority scheduler.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskqueue_executions_in_flight",
			Help: "Number of executions currently holding an admission permit.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskqueue_tasks_completed_total",
			Help: "Total tasks that reached status completed, by task type.",
		}, []string{"task_type"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskqueue_tasks_failed_total",
			Help: "Total tasks that reached status failed, by task type.",
		}, []string{"task_type"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskqueue_attempts_to_terminal",
			Help:    "Number of attempts a task took to reach a terminal state.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}, []string{"task_type"}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskqueue_handler_duration_seconds",
			Help:    "Wall-clock duration of one handler invocation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_type"}),
		brokerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskqueue_broker_queue_depth",
			Help: "Messages observed in task_queue via passive declare.",
		}),
	}

	reg.MustRegister(
		e.schedulerDepth, e.inFlight, e.tasksCompleted, e.tasksFailed,
		e.attempts, e.handlerLatency, e.brokerQueueDepth,
	)
	return e
}

// Handler returns an http.Handler serving this exporter's registry in
// Prometheus text format, for mounting at GET /metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) SetSchedulerDepth(n int)    { e.schedulerDepth.Set(float64(n)) }
func (e *Exporter) SetInFlight(n int)          { e.inFlight.Set(float64(n)) }
func (e *Exporter) SetBrokerQueueDepth(n int)  { e.brokerQueueDepth.Set(float64(n)) }
func (e *Exporter) ObserveCompleted(taskType string, attempts int) {
	e.tasksCompleted.WithLabelValues(taskType).Inc()
	e.attempts.WithLabelValues(taskType).Observe(float64(attempts))
}
func (e *Exporter) ObserveFailed(taskType string, attempts int) {
	e.tasksFailed.WithLabelValues(taskType).Inc()
	e.attempts.WithLabelValues(taskType).Observe(float64(attempts))
}
func (e *Exporter) ObserveHandlerDuration(taskType string, seconds float64) {
	e.handlerLatency.WithLabelValues(taskType).Observe(seconds)
}
