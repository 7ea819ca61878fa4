package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/compliance-rag/internal/config"
	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/observability/metrics"
)

type answererFake struct {
	err error

	namespace string
	question  string
	template  string
}

func (f *answererFake) Answer(_ context.Context, namespace, question, template string) (*domain.Answer, error) {
	f.namespace, f.question, f.template = namespace, question, template
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Answer{
		Text:      "| Section | Compliant | Reason |",
		Namespace: namespace,
		Template:  template,
		Sources:   []domain.RetrievedChunk{{Chunk: domain.Chunk{SourceID: "a.pdf", Text: "chunk"}, Score: 0.9}},
	}, nil
}

type catalogFake struct{}

func (catalogFake) ListNamespaces(context.Context) ([]domain.IndexInfo, error) {
	return []domain.IndexInfo{{Namespace: "dora", Backend: "localfs", ChunkCount: 12}}, nil
}

func (catalogFake) TemplateNames() []string { return []string{domain.TemplateGeneral} }

func (catalogFake) Templates() []domain.PromptTemplate {
	return []domain.PromptTemplate{{Name: domain.TemplateGeneral, Body: "secret body", Placeholders: []string{"context", "question"}}}
}

type buildsFake struct {
	err     error
	records map[string]*domain.BuildRecord
	saved   string
}

func (f *buildsFake) RequestBuild(_ context.Context, namespace string) (*domain.BuildRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.BuildRecord{ID: "b-1", Namespace: namespace, Status: domain.BuildQueued, CreatedAt: time.Now()}, nil
}

func (f *buildsFake) GetByID(_ context.Context, id string) (*domain.BuildRecord, error) {
	if rec, ok := f.records[id]; ok {
		return rec, nil
	}
	return nil, domain.WrapError(domain.ErrBuildNotFound, "get build", errors.New("id="+id))
}

func (f *buildsFake) UploadSource(_ context.Context, namespace, filename string, body io.Reader) (*domain.SourceDocument, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.saved = string(raw)
	return &domain.SourceDocument{ID: filename, Filename: filename, StorageKey: namespace + "/" + filename}, nil
}

type questionsFake struct{}

func (questionsFake) ReadQuestion(_ context.Context, _ string, body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	return strings.TrimSpace(string(raw)), err
}

type reportFake struct{}

func (reportFake) ContentType() string { return "application/test-xlsx" }

func (reportFake) WriteAnswer(w io.Writer, answer *domain.Answer) error {
	_, err := io.WriteString(w, "report:"+answer.Namespace)
	return err
}

func newTestServices() (Services, *answererFake, *buildsFake) {
	answerer := &answererFake{}
	builds := &buildsFake{records: map[string]*domain.BuildRecord{
		"b-7": {ID: "b-7", Namespace: "dora", Status: domain.BuildReady, ChunkCount: 5},
	}}
	return Services{
		Answerer:  answerer,
		Catalog:   catalogFake{},
		Builds:    builds,
		BuildRead: builds,
		Sources:   builds,
		Questions: questionsFake{},
		Reports:   reportFake{},
	}, answerer, builds
}

func newTestHandler(t *testing.T, cfg config.Config, svc Services) http.Handler {
	t.Helper()
	router, err := NewRouter(cfg, svc)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler()
}

func postJSON(handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestHealthzEndpoint(t *testing.T) {
	svc, _, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestListTemplatesHidesBodies(t *testing.T) {
	svc, _, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/templates", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "secret body") {
		t.Fatalf("template body must not be exposed: %s", res.Body.String())
	}
	if !strings.Contains(res.Body.String(), `"name":"general"`) {
		t.Fatalf("unexpected body %s", res.Body.String())
	}
}

func TestListNamespaces(t *testing.T) {
	svc, _, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/namespaces", nil))

	var body struct {
		Namespaces []domain.IndexInfo `json:"namespaces"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Namespaces) != 1 || body.Namespaces[0].Namespace != "dora" {
		t.Fatalf("unexpected namespaces %+v", body.Namespaces)
	}
}

func TestAnswerJSON(t *testing.T) {
	svc, answerer, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	res := postJSON(handler, "/v1/namespaces/dora/answers", map[string]string{
		"question": "Is ICT risk covered?",
		"template": domain.TemplateComplianceSectioned,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if answerer.namespace != "dora" || answerer.question != "Is ICT risk covered?" || answerer.template != domain.TemplateComplianceSectioned {
		t.Fatalf("unexpected answer call %+v", answerer)
	}
	var got domain.Answer
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Sources) != 1 || got.Sources[0].SourceID != "a.pdf" {
		t.Fatalf("unexpected sources %+v", got.Sources)
	}
}

func TestAnswerRejectsInvalidRequests(t *testing.T) {
	svc, answerer, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	cases := []struct {
		name    string
		path    string
		payload any
	}{
		{"bad namespace", "/v1/namespaces/Not_Valid/answers", map[string]string{"question": "q"}},
		{"missing question", "/v1/namespaces/dora/answers", map[string]string{}},
		{"unknown field", "/v1/namespaces/dora/answers", map[string]string{"question": "q", "limit": "3"}},
		{"unknown format", "/v1/namespaces/dora/answers?format=pdf", map[string]string{"question": "q"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postJSON(handler, tc.path, tc.payload)
			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
			}
		})
	}
	if answerer.question != "" {
		t.Fatalf("answerer must not be called for invalid requests")
	}
}

func TestAnswerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"index missing", domain.WrapKinds("answer", errors.New("dora"), domain.ErrRetrievalQA, domain.ErrIndexNotFound), http.StatusNotFound},
		{"unknown template", domain.WrapKinds("answer", errors.New("x"), domain.ErrRetrievalQA, domain.ErrUnknownTemplate), http.StatusBadRequest},
		{"rate limited", domain.WrapKinds("answer", errors.New("429"), domain.ErrGenerationService, domain.ErrRateLimited), http.StatusTooManyRequests},
		{"backend down", domain.WrapKinds("answer", errors.New("dial"), domain.ErrEmbeddingService, domain.ErrBackendUnavailable), http.StatusServiceUnavailable},
		{"generation failed", domain.WrapError(domain.ErrGenerationService, "answer", errors.New("400")), http.StatusBadGateway},
		{"corrupt index", domain.WrapError(domain.ErrIndexCorrupt, "answer", errors.New("bad signature")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, answerer, _ := newTestServices()
			answerer.err = tc.err
			handler := newTestHandler(t, config.Config{}, svc)

			res := postJSON(handler, "/v1/namespaces/dora/answers", map[string]string{"question": "q"})
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestAnswerXLSXFormat(t *testing.T) {
	svc, _, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	res := postJSON(handler, "/v1/namespaces/dora/answers?format=xlsx", map[string]string{"question": "q"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/test-xlsx" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "dora-compliance.xlsx") {
		t.Fatalf("unexpected disposition %q", res.Header().Get("Content-Disposition"))
	}
	if res.Body.String() != "report:dora" {
		t.Fatalf("unexpected body %q", res.Body.String())
	}
}

func TestAnswerWithQuestionDocument(t *testing.T) {
	svc, answerer, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("question", "Check this policy:")
	_ = mw.WriteField("template", domain.TemplateComplianceBasic)
	part, err := mw.CreateFormFile("question_document", "policy.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("Backups are tested quarterly.\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/namespaces/dora/answers", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if answerer.question != "Check this policy:\n\nBackups are tested quarterly." {
		t.Fatalf("unexpected question %q", answerer.question)
	}
	if answerer.template != domain.TemplateComplianceBasic {
		t.Fatalf("unexpected template %q", answerer.template)
	}
}

func TestRequestBuildAndReadIt(t *testing.T) {
	svc, _, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/namespaces/dora/builds", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if res.Header().Get("Location") != "/v1/builds/b-1" {
		t.Fatalf("unexpected location %q", res.Header().Get("Location"))
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/builds/b-7", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"status":"ready"`) {
		t.Fatalf("unexpected build response %d %s", res.Code, res.Body.String())
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/builds/missing", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestRequestBuildInProgressReturns409(t *testing.T) {
	svc, _, builds := newTestServices()
	builds.err = domain.WrapError(domain.ErrBuildInProgress, "lock dora", errors.New("busy"))
	handler := newTestHandler(t, config.Config{}, svc)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/namespaces/dora/builds", nil))
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestUploadSource(t *testing.T) {
	svc, _, builds := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "guidelines.pdf")
	_, _ = part.Write([]byte("%PDF-1.4"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/namespaces/dora/sources", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if builds.saved != "%PDF-1.4" || !strings.Contains(res.Body.String(), `"storage_key":"dora/guidelines.pdf"`) {
		t.Fatalf("unexpected upload result %q %s", builds.saved, res.Body.String())
	}
}

func TestUploadSourceTooLarge(t *testing.T) {
	svc, _, _ := newTestServices()
	handler := newTestHandler(t, config.Config{APIMaxUploadBytes: 1024}, svc)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "big.pdf")
	_, _ = part.Write(bytes.Repeat([]byte("x"), 4096))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/namespaces/dora/sources", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", res.Code, res.Body.String())
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	svc, _, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents/1", nil))
	if res.Code != http.StatusNotFound || !strings.Contains(res.Body.String(), `"error"`) {
		t.Fatalf("unexpected response %d %s", res.Code, res.Body.String())
	}
}

func TestOpenAPISpecIsServed(t *testing.T) {
	svc, _, _ := newTestServices()
	handler := newTestHandler(t, config.Config{}, svc)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	if res.Code != http.StatusOK || !strings.HasPrefix(res.Body.String(), "openapi: 3.0.3") {
		t.Fatalf("unexpected response %d", res.Code)
	}
}

func TestMetricsEndpointLabelsByRoutePattern(t *testing.T) {
	svc, _, _ := newTestServices()
	svc.Metrics = metrics.NewHTTPServerMetrics(serviceName)
	handler := newTestHandler(t, config.Config{}, svc)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/builds/b-7", nil))
	postJSON(handler, "/v1/namespaces/dora/answers", map[string]string{"question": "q"})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := res.Body.String()
	for _, want := range []string{
		`path="/v1/builds/{id}"`,
		`path="/v1/namespaces/{namespace}/answers"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s:\n%s", want, body)
		}
	}
}
