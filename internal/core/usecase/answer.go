package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

const (
	defaultTopK      = 10
	defaultMaxTokens = 1000

	contextSeparator = "\n\n"

	indexLoadTimeout = 2 * time.Minute
)

type AnswerConfig struct {
	TopK      int
	MaxTokens int
	// SectionList is the rendered value bound to {sections}.
	SectionList string
}

type cachedIndex struct {
	revision string
	index    ports.VectorIndex
}

// AnswerUseCase answers a question from the top-k chunks of a namespace
// index. Loaded index handles are cached until the namespace is rebuilt.
type AnswerUseCase struct {
	embedder  ports.Embedder
	store     ports.IndexStore
	templates ports.TemplateRegistry
	generator ports.Generator
	executor  ports.Executor
	cfg       AnswerConfig

	mu      sync.Mutex
	handles map[string]cachedIndex
	loads   singleflight.Group
}

func NewAnswerUseCase(
	embedder ports.Embedder,
	store ports.IndexStore,
	templates ports.TemplateRegistry,
	generator ports.Generator,
	executor ports.Executor,
	cfg AnswerConfig,
) *AnswerUseCase {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &AnswerUseCase{
		embedder:  embedder,
		store:     store,
		templates: templates,
		generator: generator,
		executor:  executor,
		cfg:       cfg,
		handles:   make(map[string]cachedIndex),
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, namespace, question, template string) (*domain.Answer, error) {
	started := time.Now()
	answer, err := uc.answer(ctx, namespace, question, template)
	if err != nil {
		return nil, domain.WrapKinds("answer "+namespace, err, domain.ErrRetrievalQA)
	}

	slog.InfoContext(ctx, "answer_generated",
		"namespace", namespace,
		"template", answer.Template,
		"sources", len(answer.Sources),
		"verdicts", len(answer.Verdicts),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return answer, nil
}

func (uc *AnswerUseCase) answer(ctx context.Context, namespace, question, template string) (*domain.Answer, error) {
	if template == "" {
		template = domain.TemplateGeneral
	}
	if !domain.ValidNamespace(namespace) {
		return nil, invalidNamespace(namespace)
	}
	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate question", errors.New("question is empty"))
	}
	tmpl, err := uc.templates.Get(template)
	if err != nil {
		return nil, err
	}

	index, err := uc.index(ctx, namespace)
	if err != nil {
		return nil, err
	}

	var queryVector []float32
	err = run(ctx, uc.executor, "embed_query", func(callCtx context.Context) error {
		v, err := uc.embedder.EmbedQuery(callCtx, question)
		if err != nil {
			return err
		}
		queryVector = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sources, err := index.Query(ctx, queryVector, uc.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	prompt, err := uc.templates.Fill(tmpl.Name, uc.bindings(tmpl, question, sources))
	if err != nil {
		return nil, err
	}

	var text string
	err = run(ctx, uc.executor, "generate", func(callCtx context.Context) error {
		out, err := uc.generator.Generate(callCtx, prompt, uc.cfg.MaxTokens)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.WrapError(domain.ErrGenerationService, "generate answer", errors.New("empty completion"))
	}

	answer := &domain.Answer{
		Text:      text,
		Namespace: namespace,
		Template:  tmpl.Name,
		Sources:   sources,
	}
	if tmpl.Compliance {
		answer.Verdicts = ParseVerdicts(text)
	}
	return answer, nil
}

func (uc *AnswerUseCase) bindings(tmpl domain.PromptTemplate, question string, sources []domain.RetrievedChunk) map[string]string {
	texts := make([]string, 0, len(sources))
	for _, s := range sources {
		texts = append(texts, s.Text)
	}
	bindings := map[string]string{
		domain.PlaceholderContext:  strings.Join(texts, contextSeparator),
		domain.PlaceholderQuestion: question,
	}
	if tmpl.References(domain.PlaceholderSections) {
		bindings[domain.PlaceholderSections] = uc.cfg.SectionList
	}
	return bindings
}

// index returns the handle for the committed build of namespace, loading it
// at most once per revision.
func (uc *AnswerUseCase) index(ctx context.Context, namespace string) (ports.VectorIndex, error) {
	revision, err := uc.store.Revision(ctx, namespace)
	if err != nil {
		return nil, err
	}

	uc.mu.Lock()
	cached, ok := uc.handles[namespace]
	uc.mu.Unlock()
	if ok && cached.revision == revision {
		return cached.index, nil
	}

	// The load is shared by every caller waiting on this revision, so it
	// must outlive the context of whoever started it.
	ch := uc.loads.DoChan(namespace+"@"+revision, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexLoadTimeout)
		defer cancel()
		index, err := uc.store.Load(loadCtx, namespace)
		if err != nil {
			return nil, err
		}
		uc.mu.Lock()
		uc.handles[namespace] = cachedIndex{revision: index.Info().BuildID, index: index}
		uc.mu.Unlock()
		return index, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ports.VectorIndex), nil
	}
}
