package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

type storageFake struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
}

func newStorageFake(keys ...string) *storageFake {
	f := &storageFake{files: map[string][]byte{}}
	for _, k := range keys {
		f.files[k] = []byte(k)
	}
	return f
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("open %s: not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, key)
	return nil
}

func (f *storageFake) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.files {
		if strings.HasPrefix(k, prefix+"/") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// pagesExtractorFake serves canned pages per source ID.
type pagesExtractorFake struct {
	pages map[string][]string
	errs  map[string]error
}

func (f *pagesExtractorFake) ExtractPages(_ context.Context, doc domain.SourceDocument) ([]domain.TextUnit, error) {
	if err := f.errs[doc.ID]; err != nil {
		return nil, err
	}
	var units []domain.TextUnit
	for i, text := range f.pages[doc.ID] {
		units = append(units, domain.TextUnit{SourceID: doc.ID, Page: i + 1, Text: text})
	}
	return units, nil
}

func (f *pagesExtractorFake) ExtractText(ctx context.Context, doc domain.SourceDocument) (string, error) {
	units, err := f.ExtractPages(ctx, doc)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		parts = append(parts, u.Text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// pageChunker emits one chunk per non-blank unit.
type pageChunker struct{}

func (pageChunker) Split(text string) []domain.Chunk {
	return pageChunker{}.SplitUnits([]domain.TextUnit{{Text: text}})
}

func (pageChunker) SplitUnits(units []domain.TextUnit) []domain.Chunk {
	var out []domain.Chunk
	for i, u := range units {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		out = append(out, domain.Chunk{
			ID:        fmt.Sprintf("%s#%d", u.SourceID, u.Page),
			SourceID:  u.SourceID,
			PageStart: u.Page,
			PageEnd:   u.Page,
			Ordinal:   i,
			End:       len([]rune(u.Text)),
			Text:      u.Text,
		})
	}
	return out
}

// vectorEmbedderFake maps a text to a 2-d vector derived from its length.
type vectorEmbedderFake struct {
	mu         sync.Mutex
	embedCalls int
	queryCalls int
	batchSizes []int
	err        error
	queryErr   error
	short      bool
}

func textVector(text string) []float32 {
	return []float32{float32(len(text)), 1}
}

func (f *vectorEmbedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.batchSizes = append(f.batchSizes, len(texts))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, textVector(t))
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *vectorEmbedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queryCalls++
	f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return textVector(text), nil
}

type indexStoreFake struct {
	mu       sync.Mutex
	builds   map[string]builtIndex
	buildErr error
	loads    int
	loadErr  error
	seq      int

	// when set, Load signals loadStarted and blocks until loadGate is closed
	loadStarted chan struct{}
	loadGate    chan struct{}
}

type builtIndex struct {
	info    domain.IndexInfo
	chunks  []domain.Chunk
	vectors [][]float32
}

func newIndexStoreFake() *indexStoreFake {
	return &indexStoreFake{builds: map[string]builtIndex{}}
}

func (f *indexStoreFake) Build(_ context.Context, namespace string, chunks []domain.Chunk, vectors [][]float32) (domain.IndexInfo, error) {
	if f.buildErr != nil {
		return domain.IndexInfo{}, f.buildErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	info := domain.IndexInfo{
		Namespace:  namespace,
		BuildID:    fmt.Sprintf("build-%d", f.seq),
		Backend:    "fake",
		ChunkCount: len(chunks),
		Dimension:  len(vectors[0]),
	}
	f.builds[namespace] = builtIndex{info: info, chunks: chunks, vectors: vectors}
	return info, nil
}

func (f *indexStoreFake) Load(ctx context.Context, namespace string) (ports.VectorIndex, error) {
	if f.loadGate != nil {
		f.loadStarted <- struct{}{}
		select {
		case <-f.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	b, ok := f.builds[namespace]
	if !ok {
		return nil, domain.ErrIndexNotFound
	}
	return &indexFake{built: b}, nil
}

func (f *indexStoreFake) Revision(_ context.Context, namespace string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.builds[namespace]
	if !ok {
		return "", domain.ErrIndexNotFound
	}
	return b.info.BuildID, nil
}

func (f *indexStoreFake) List(context.Context) ([]domain.IndexInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.IndexInfo
	for _, b := range f.builds {
		out = append(out, b.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out, nil
}

// indexFake returns chunks in stored order, truncated to k.
type indexFake struct {
	built builtIndex
	lastK int
}

func (ix *indexFake) Info() domain.IndexInfo { return ix.built.info }

func (ix *indexFake) Query(_ context.Context, _ []float32, k int) ([]domain.RetrievedChunk, error) {
	ix.lastK = k
	var out []domain.RetrievedChunk
	for i, c := range ix.built.chunks {
		if i >= k {
			break
		}
		out = append(out, domain.RetrievedChunk{Chunk: c, Score: 1 - float64(i)/10, Distance: float64(i) / 10})
	}
	return out, nil
}

type lockerFake struct {
	mu     sync.Mutex
	held   map[string]bool
	locks  int
	unlock int
}

func newLockerFake() *lockerFake {
	return &lockerFake{held: map[string]bool{}}
}

func (f *lockerFake) Lock(_ context.Context, namespace string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[namespace] {
		return nil, domain.WrapError(domain.ErrBuildInProgress, "lock "+namespace, errors.New("held"))
	}
	f.held[namespace] = true
	f.locks++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, namespace)
		f.unlock++
	}, nil
}

type templatesFake struct {
	templates map[string]domain.PromptTemplate
}

func newTemplatesFake() *templatesFake {
	return &templatesFake{templates: map[string]domain.PromptTemplate{
		domain.TemplateGeneral: {
			Name:         domain.TemplateGeneral,
			Body:         "CTX:{context}\nQ:{question}",
			Placeholders: []string{"context", "question"},
		},
		domain.TemplateComplianceSectioned: {
			Name:         domain.TemplateComplianceSectioned,
			Body:         "SECTIONS:{sections}\nCTX:{context}\nQ:{question}",
			Placeholders: []string{"sections", "context", "question"},
			Compliance:   true,
		},
	}}
}

func (f *templatesFake) Get(name string) (domain.PromptTemplate, error) {
	t, ok := f.templates[name]
	if !ok {
		return domain.PromptTemplate{}, domain.WrapError(domain.ErrUnknownTemplate, "get template", errors.New(name))
	}
	return t, nil
}

func (f *templatesFake) Names() []string {
	var out []string
	for name := range f.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (f *templatesFake) Templates() []domain.PromptTemplate {
	var out []domain.PromptTemplate
	for _, name := range f.Names() {
		out = append(out, f.templates[name])
	}
	return out
}

func (f *templatesFake) Fill(name string, bindings map[string]string) (string, error) {
	t, err := f.Get(name)
	if err != nil {
		return "", err
	}
	body := t.Body
	for _, p := range t.Placeholders {
		if strings.TrimSpace(bindings[p]) == "" {
			return "", domain.WrapError(domain.ErrMissingBinding, "fill", errors.New(p))
		}
		body = strings.ReplaceAll(body, "{"+p+"}", bindings[p])
	}
	return body, nil
}

type generatorFake struct {
	mu        sync.Mutex
	text      string
	err       error
	calls     int
	prompt    string
	maxTokens int
}

func (f *generatorFake) Generate(_ context.Context, prompt string, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompt = prompt
	f.maxTokens = maxTokens
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// countingExecutor runs fn once and records the operation names.
type countingExecutor struct {
	mu  sync.Mutex
	ops []string
}

func (e *countingExecutor) Run(ctx context.Context, operation string, fn func(context.Context) error) error {
	e.mu.Lock()
	e.ops = append(e.ops, operation)
	e.mu.Unlock()
	return fn(ctx)
}

type statusCall struct {
	status domain.BuildStatus
	errMsg string
}

type buildRepoFake struct {
	mu            sync.Mutex
	builds        map[string]*domain.BuildRecord
	createErr     error
	saveErr       error
	failStatusErr error
	statusCalls   []statusCall
	reports       map[string]domain.BuildReport
}

func newBuildRepoFake(records ...*domain.BuildRecord) *buildRepoFake {
	f := &buildRepoFake{builds: map[string]*domain.BuildRecord{}, reports: map[string]domain.BuildReport{}}
	for _, r := range records {
		f.builds[r.ID] = r
	}
	return f
}

func (f *buildRepoFake) Create(_ context.Context, build *domain.BuildRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copyBuild := *build
	f.builds[build.ID] = &copyBuild
	return nil
}

func (f *buildRepoFake) GetByID(_ context.Context, id string) (*domain.BuildRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.builds[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrBuildNotFound, "get build", errors.New(id))
	}
	copyBuild := *b
	return &copyBuild, nil
}

func (f *buildRepoFake) UpdateStatus(_ context.Context, id string, status domain.BuildStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	if status == domain.BuildFailed && f.failStatusErr != nil {
		return f.failStatusErr
	}
	if b, ok := f.builds[id]; ok {
		b.Status = status
		b.Error = errMessage
	}
	return nil
}

func (f *buildRepoFake) SaveReport(_ context.Context, id string, report domain.BuildReport) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[id] = report
	return nil
}

type queueFake struct {
	published  []string
	publishErr error
}

func (f *queueFake) PublishBuildRequested(_ context.Context, buildID string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, buildID)
	return nil
}

func (f *queueFake) SubscribeBuildRequested(context.Context, func(context.Context, string) error) error {
	return nil
}

type builderFake struct {
	report *domain.BuildReport
	err    error
	calls  []string
}

func (f *builderFake) BuildFromSources(_ context.Context, namespace string, _ []domain.SourceDocument) (*domain.BuildReport, error) {
	return f.BuildNamespace(context.Background(), namespace)
}

func (f *builderFake) BuildNamespace(_ context.Context, namespace string) (*domain.BuildReport, error) {
	f.calls = append(f.calls, namespace)
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}
