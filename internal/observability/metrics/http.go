package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

const namespace = "crag"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	answersTotal       *prometheus.CounterVec
	answerDuration     *prometheus.HistogramVec
	retrievedChunks    *prometheus.HistogramVec
	noContextTotal     *prometheus.CounterVec
	verdictsTotal      *prometheus.CounterVec
	rateLimitedTotal   *prometheus.CounterVec
	buildRequestsTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Total answer requests by template and status.",
		},
		[]string{"service", "template", "status"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "answer_duration_seconds",
			Help:      "Retrieval plus generation duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "template"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "retrieved_chunks",
			Help:      "Distribution of retrieved chunks per successful answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 13, 21},
		},
		[]string{"service", "template"},
	)
	noContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "no_context_total",
			Help:      "Total answers produced without retrieved sources.",
		},
		[]string{"service", "template"},
	)
	verdictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "verdicts_total",
			Help:      "Compliance verdict rows parsed from answers by status.",
		},
		[]string{"service", "status"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		},
		[]string{"service"},
	)
	buildRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "build_requests_total",
			Help:      "Index build requests accepted by the API.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		answersTotal,
		answerDuration,
		retrievedChunks,
		noContextTotal,
		verdictsTotal,
		rateLimitedTotal,
		buildRequestsTotal,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		answersTotal:       answersTotal,
		answerDuration:     answerDuration,
		retrievedChunks:    retrievedChunks,
		noContextTotal:     noContextTotal,
		verdictsTotal:      verdictsTotal,
		rateLimitedTotal:   rateLimitedTotal,
		buildRequestsTotal: buildRequestsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware must be mounted inside the chi router so the matched route
// pattern is available after the handler returns.
func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		path := normalizePath(r.URL.Path)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded when no route pattern is known.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/builds/"):
		return "/v1/builds/{id}"
	case strings.HasPrefix(path, "/v1/namespaces/"):
		rest := strings.TrimPrefix(path, "/v1/namespaces/")
		if _, tail, ok := strings.Cut(rest, "/"); ok && tail != "" {
			return "/v1/namespaces/{namespace}/" + tail
		}
		return "/v1/namespaces/{namespace}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordAnswer(service, template string, sourceCount int, verdicts []domain.ComplianceVerdict, duration time.Duration, err error) {
	if template == "" {
		template = domain.TemplateGeneral
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.answersTotal.WithLabelValues(service, template, status).Inc()
	m.answerDuration.WithLabelValues(service, template).Observe(duration.Seconds())
	if err != nil {
		return
	}

	m.retrievedChunks.WithLabelValues(service, template).Observe(float64(sourceCount))
	if sourceCount == 0 {
		m.noContextTotal.WithLabelValues(service, template).Inc()
	}
	for _, v := range verdicts {
		m.verdictsTotal.WithLabelValues(service, string(v.Status)).Inc()
	}
}

func (m *HTTPServerMetrics) RecordRateLimited(service string) {
	m.rateLimitedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordBuildRequest(service string) {
	m.buildRequestsTotal.WithLabelValues(service).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
