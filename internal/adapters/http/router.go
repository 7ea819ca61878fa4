package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/compliance-rag/internal/config"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
	"github.com/kirillkom/compliance-rag/internal/observability/metrics"
)

const serviceName = "api"

// Services are the inbound ports served over HTTP. Reports, Questions and
// Metrics may be nil; the routes depending on them then answer 501 or are
// not mounted.
type Services struct {
	Answerer  ports.Answerer
	Catalog   ports.Catalog
	Builds    ports.BuildRequester
	BuildRead ports.BuildReader
	Sources   ports.SourceUploader
	Questions ports.QuestionReader
	Reports   ports.ReportWriter
	Metrics   *metrics.HTTPServerMetrics
}

type Router struct {
	svc            Services
	validator      *openAPIValidator
	limiter        *ipRateLimiter
	maxInFlight    int
	backpressureWT time.Duration
	maxUploadBytes int64
}

func NewRouter(cfg config.Config, svc Services) (*Router, error) {
	validator, err := newOpenAPIValidator()
	if err != nil {
		return nil, err
	}
	var limiter *ipRateLimiter
	if cfg.APIRateLimitRPS > 0 {
		limiter = newIPRateLimiter(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst)
	}
	maxUpload := cfg.APIMaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	return &Router{
		svc:            svc,
		validator:      validator,
		limiter:        limiter,
		maxInFlight:    cfg.APIMaxInFlight,
		backpressureWT: cfg.APIBackpressureWait,
		maxUploadBytes: maxUpload,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(middleware.Recoverer)
	if rt.svc.Metrics != nil {
		m := rt.svc.Metrics
		r.Use(func(next http.Handler) http.Handler { return m.Middleware(serviceName, next) })
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Get("/healthz", rt.healthz)
	r.Get("/openapi.yaml", serveOpenAPISpec)

	r.Route("/v1", func(r chi.Router) {
		if rt.limiter != nil {
			r.Use(func(next http.Handler) http.Handler {
				return rateLimitMiddleware(next, rt.limiter, rt.svc.Metrics)
			})
		}
		if rt.maxInFlight > 0 {
			r.Use(func(next http.Handler) http.Handler {
				return backpressureMiddleware(next, rt.maxInFlight, rt.backpressureWT)
			})
		}
		r.Use(rt.validator.Middleware)

		r.Get("/templates", rt.listTemplates)
		r.Get("/namespaces", rt.listNamespaces)
		r.Post("/namespaces/{namespace}/sources", rt.uploadSource)
		r.Post("/namespaces/{namespace}/builds", rt.requestBuild)
		r.Post("/namespaces/{namespace}/answers", rt.answer)
		r.Get("/builds/{id}", rt.getBuild)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": rt.svc.Catalog.Templates()})
}

func (rt *Router) listNamespaces(w http.ResponseWriter, r *http.Request) {
	infos, err := rt.svc.Catalog.ListNamespaces(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": infos})
}

func (rt *Router) uploadSource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeUploadError(w, err, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	doc, err := rt.svc.Sources.UploadSource(r.Context(), chi.URLParam(r, "namespace"), header.Filename, file)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) requestBuild(w http.ResponseWriter, r *http.Request) {
	build, err := rt.svc.Builds.RequestBuild(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.svc.Metrics != nil {
		rt.svc.Metrics.RecordBuildRequest(serviceName)
	}
	w.Header().Set("Location", "/v1/builds/"+build.ID)
	writeJSON(w, http.StatusAccepted, build)
}

func (rt *Router) getBuild(w http.ResponseWriter, r *http.Request) {
	build, err := rt.svc.BuildRead.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "http_request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func writeUploadError(w http.ResponseWriter, err error, fallback string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	writeError(w, http.StatusBadRequest, fallback)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
