package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueueStats exposes queue occupancy for gauges
type QueueStats interface {
	Len() int
	Cap() int
}

// Metrics contains the Prometheus metrics of one agent instance. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	JobsIngested *prometheus.CounterVec
	PollCycles   *prometheus.CounterVec

	// Queue metrics
	QueueLatency prometheus.Histogram

	// Probe metrics
	ProbeDuration *prometheus.HistogramVec
	ResultsTotal  *prometheus.CounterVec

	// Delivery metrics
	DeliveriesTotal *prometheus.CounterVec

	// Worker metrics
	WorkerBusy   prometheus.Gauge
	WorkerPanics prometheus.Counter
}

// New creates and registers all metrics on a fresh registry
func New(queue QueueStats) *Metrics {
	buckets := []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30}

	registry := prometheus.NewRegistry()
	registerer := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		JobsIngested: registerer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certwatch_jobs_ingested_total",
				Help: "Jobs received from a task source, by outcome",
			},
			[]string{"initiator", "outcome"},
		),
		PollCycles: registerer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certwatch_poll_cycles_total",
				Help: "Poll cycles executed, by outcome",
			},
			[]string{"outcome"},
		),
		QueueLatency: registerer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "certwatch_queue_latency_seconds",
				Help:    "Time jobs spend queued before a worker picks them up",
				Buckets: buckets,
			},
		),
		ProbeDuration: registerer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certwatch_probe_duration_seconds",
				Help:    "TLS probe duration, by status",
				Buckets: buckets,
			},
			[]string{"status"},
		),
		ResultsTotal: registerer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certwatch_results_total",
				Help: "Results produced, by status",
			},
			[]string{"status"},
		),
		DeliveriesTotal: registerer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certwatch_deliveries_total",
				Help: "Report and acknowledgment deliveries, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		WorkerBusy: registerer.NewGauge(
			prometheus.GaugeOpts{
				Name: "certwatch_workers_busy",
				Help: "Workers currently processing a job",
			},
		),
		WorkerPanics: registerer.NewCounter(
			prometheus.CounterOpts{
				Name: "certwatch_worker_panics_total",
				Help: "Panics recovered while processing a job",
			},
		),
	}

	if queue != nil {
		registerer.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "certwatch_queue_depth",
				Help: "Jobs currently queued",
			},
			func() float64 { return float64(queue.Len()) },
		)
		registerer.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "certwatch_queue_capacity",
				Help: "Maximum number of queued jobs",
			},
			func() float64 { return float64(queue.Cap()) },
		)
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry holding the agent metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncIngested counts a job offered by a task source
func (m *Metrics) IncIngested(initiator, outcome string) {
	if m == nil {
		return
	}
	m.JobsIngested.WithLabelValues(initiator, outcome).Inc()
}

// IncPollCycle counts a finished poll cycle
func (m *Metrics) IncPollCycle(outcome string) {
	if m == nil {
		return
	}
	m.PollCycles.WithLabelValues(outcome).Inc()
}

// ObserveQueueLatency records how long a job waited in the queue
func (m *Metrics) ObserveQueueLatency(received time.Time) {
	if m == nil || received.IsZero() {
		return
	}
	m.QueueLatency.Observe(time.Since(received).Seconds())
}

// ObserveProbe records a probe duration for the given status
func (m *Metrics) ObserveProbe(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProbeDuration.WithLabelValues(status).Observe(d.Seconds())
}

// IncResult counts a produced result
func (m *Metrics) IncResult(status string) {
	if m == nil {
		return
	}
	m.ResultsTotal.WithLabelValues(status).Inc()
}

// IncDelivery counts a report or ack delivery attempt outcome
func (m *Metrics) IncDelivery(kind, outcome string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(kind, outcome).Inc()
}

// WorkerStarted marks a worker as busy
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.WorkerBusy.Inc()
}

// WorkerFinished marks a worker as idle
func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.WorkerBusy.Dec()
}

// IncWorkerPanic counts a recovered panic
func (m *Metrics) IncWorkerPanic() {
	if m == nil {
		return
	}
	m.WorkerPanics.Inc()
}
