package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	buildTotal    *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	buildInFlight prometheus.Gauge
	chunksIndexed *prometheus.CounterVec
	queueLag      *prometheus.HistogramVec
	breakerOpen   *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	buildTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "build_total",
			Help:      "Total processed index builds by status.",
		},
		[]string{"service", "status"},
	)
	buildDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "build_duration_seconds",
			Help:      "Index build duration in seconds by status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"service", "status"},
	)
	buildInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "build_in_flight",
			Help:      "Number of in-flight index builds.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chunksIndexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "chunks_indexed_total",
			Help:      "Total chunks written by successful builds.",
		},
		[]string{"service"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between build request and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_open",
			Help:      "1 when the circuit breaker for an operation is open.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(buildTotal, buildDuration, buildInFlight, chunksIndexed, queueLag, breakerOpen)

	return &WorkerMetrics{
		registry:      registry,
		buildTotal:    buildTotal,
		buildDuration: buildDuration,
		buildInFlight: buildInFlight,
		chunksIndexed: chunksIndexed,
		queueLag:      queueLag,
		breakerOpen:   breakerOpen,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartBuild() {
	m.buildInFlight.Inc()
}

func (m *WorkerMetrics) FinishBuild(service string, duration time.Duration, err error) {
	m.buildInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.buildTotal.WithLabelValues(service, status).Inc()
	m.buildDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AddIndexedChunks(service string, n int) {
	if n <= 0 {
		return
	}
	m.chunksIndexed.WithLabelValues(service).Add(float64(n))
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

// SetBreakerStates publishes breaker states as reported by the resilience executor.
func (m *WorkerMetrics) SetBreakerStates(service string, states map[string]string) {
	for op, state := range states {
		v := 0.0
		if state == "open" {
			v = 1
		}
		m.breakerOpen.WithLabelValues(service, op).Set(v)
	}
}
