package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/compliance-rag/internal/config"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
	"github.com/kirillkom/compliance-rag/internal/core/usecase"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/extractor"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/extractor/office"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/llm/openai"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/llm/ratelimit"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/lock/local"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/lock/redislock"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/prompts"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/report"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/repository/memory"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/vector/manifest"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/vector/qdrant"
	vectorfs "github.com/kirillkom/compliance-rag/internal/infrastructure/vector/localfs"
)

// Executor operation names that get their own attempt timeout.
const (
	opEmbed      = "embed"
	opEmbedQuery = "embed_query"
	opGenerate   = "generate"
)

type App struct {
	Config config.Config

	Storage   *localfs.Storage
	Executor  *resilience.Executor
	Builder   *usecase.BuildIndexUseCase
	Answerer  *usecase.AnswerUseCase
	Catalog   *usecase.CatalogUseCase
	Questions *usecase.QuestionDocumentUseCase
	Reports   *report.XLSXWriter

	// Set by New only; the CLI builds synchronously.
	Queue     *nats.Queue
	Repo      ports.BuildRepository
	Requests  *usecase.BuildRequestUseCase
	Processor *usecase.ProcessBuildUseCase

	closers []func()
}

// NewCore wires storage, models, the index backend and the use cases that run
// in-process. It needs neither NATS nor a build repository.
func NewCore(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}
	if err := app.initCore(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// New wires the core plus the build repository and queue shared by the API
// and the worker.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}
	if err := app.initCore(ctx); err != nil {
		app.Close()
		return nil, err
	}

	repo, err := app.openBuildRepository(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Repo = repo

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: app.Executor,
		HandlerTimeout:     cfg.BuildTimeout,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.Queue = queue
	app.onClose(queue.Close)

	app.Requests = usecase.NewBuildRequestUseCase(repo, app.Storage, queue)
	app.Processor = usecase.NewProcessBuildUseCase(repo, app.Builder)
	return app, nil
}

func (a *App) initCore(ctx context.Context) error {
	cfg := a.Config

	storage, err := localfs.New(cfg.SourceRoot)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	a.Storage = storage

	a.Executor = resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		OperationTimeouts: map[string]time.Duration{
			opEmbed:      cfg.EmbedTimeout,
			opEmbedQuery: cfg.EmbedTimeout,
			opGenerate:   cfg.GenerateTimeout,
		},
		BreakerEnabled:     cfg.BreakerEnabled,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	})

	embedder, generator, err := a.newModels(ctx)
	if err != nil {
		return err
	}

	store, err := a.newIndexStore()
	if err != nil {
		return err
	}

	templates, err := prompts.New(cfg.PromptsDir)
	if err != nil {
		return fmt.Errorf("load prompt templates: %w", err)
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		return err
	}

	extractors := newExtractor(storage)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, chunking.WithAcrossPages(cfg.ChunkAcrossPages))

	a.Builder = usecase.NewBuildIndexUseCase(storage, extractors, chunker, embedder, store, locker, a.Executor, usecase.BuildConfig{
		EmbedBatchSize:   cfg.EmbedBatchSize,
		EmbedConcurrency: cfg.EmbedConcurrency,
	})
	a.Answerer = usecase.NewAnswerUseCase(embedder, store, templates, generator, a.Executor, usecase.AnswerConfig{
		TopK:        cfg.RAGTopK,
		MaxTokens:   cfg.GenerateMaxTokens,
		SectionList: prompts.FormatSections(cfg.ComplianceSections),
	})
	a.Catalog = usecase.NewCatalogUseCase(store, templates)
	a.Questions = usecase.NewQuestionDocumentUseCase(storage, extractors)
	a.Reports = report.NewXLSXWriter()
	return nil
}

func newExtractor(storage ports.ObjectStorage) *extractor.Router {
	text := plaintext.NewExtractor(storage)
	routes := map[string]ports.TextExtractor{
		".pdf": pdf.NewExtractor(storage),
		".txt": text,
		".md":  text,
	}
	officeExtractor := office.NewExtractor(storage)
	for _, ext := range office.Extensions {
		routes[ext] = officeExtractor
	}
	return extractor.NewRouter(routes)
}

func (a *App) newModels(ctx context.Context) (ports.Embedder, ports.Generator, error) {
	cfg := a.Config

	var (
		embedder  ports.Embedder
		generator ports.Generator
	)
	switch cfg.LLMProvider {
	case "gemini":
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			EmbedModel: cfg.GeminiEmbedModel,
			GenModel:   cfg.GeminiGenModel,
			Dimension:  int32(cfg.GeminiEmbedDim),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini: %w", err)
		}
		embedder, generator = gemini.NewEmbedder(client), gemini.NewGenerator(client)
	case "openai":
		client := openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			EmbedModel: cfg.OpenAIEmbedModel,
			GenModel:   cfg.OpenAIGenModel,
		})
		embedder, generator = openai.NewEmbedder(client), openai.NewGenerator(client)
	default:
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel)
		embedder, generator = ollama.NewEmbedder(client), ollama.NewGenerator(client)
	}

	if cfg.LLMProvider != "ollama" {
		embedLimiter := ratelimit.NewLimiter(cfg.EmbedRateLimitRPS, cfg.EmbedRateLimitBurst, cfg.LLMRateCooldown)
		generateLimiter := ratelimit.NewLimiter(0, 1, cfg.LLMRateCooldown)
		embedder = ratelimit.NewEmbedder(embedder, embedLimiter)
		generator = ratelimit.NewGenerator(generator, generateLimiter)
	}
	slog.Info("model_provider_selected", "provider", cfg.LLMProvider)
	return embedder, generator, nil
}

func (a *App) newIndexStore() (ports.IndexStore, error) {
	cfg := a.Config

	key, err := manifest.LoadOrCreateKey(cfg.IndexRoot, cfg.IndexSigningKey)
	if err != nil {
		return nil, fmt.Errorf("load index signing key: %w", err)
	}
	signer, err := manifest.NewSigner(key)
	if err != nil {
		return nil, fmt.Errorf("init manifest signer: %w", err)
	}

	if cfg.IndexBackend != qdrant.Backend {
		store, err := vectorfs.NewStore(cfg.IndexRoot, signer)
		if err != nil {
			return nil, fmt.Errorf("init localfs index store: %w", err)
		}
		return store, nil
	}

	client, err := qdrant.Dial(qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = client.Close() })

	store, err := qdrant.NewStore(client, cfg.IndexRoot, signer, cfg.QdrantCollectionPrefix)
	if err != nil {
		return nil, fmt.Errorf("init qdrant index store: %w", err)
	}
	return store, nil
}

func (a *App) newLocker(ctx context.Context) (ports.BuildLocker, error) {
	cfg := a.Config
	if cfg.LockBackend != "redis" {
		return local.NewLocker(), nil
	}

	client := redislock.NewClient(redislock.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	a.onClose(func() { _ = client.Close() })
	return redislock.NewLocker(client, "crag:build-lock:", cfg.BuildLockTTL), nil
}

func (a *App) openBuildRepository(ctx context.Context) (ports.BuildRepository, error) {
	cfg := a.Config

	switch cfg.BuildRepository {
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.onClose(func() { _ = db.Close() })
		repo := postgres.NewBuildRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	case "sqlite":
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.onClose(func() { _ = repo.Close() })
		return repo, nil
	default:
		slog.Warn("build_repository_in_memory", "hint", "build status is not shared between processes")
		return memory.NewBuildRepository(), nil
	}
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ErrQueueNotConfigured is returned by helpers that need New rather than NewCore.
var ErrQueueNotConfigured = errors.New("bootstrap: queue not configured")

// SubscribeBuilds runs processor for every queued build until ctx is done.
func (a *App) SubscribeBuilds(ctx context.Context, processor ports.BuildProcessor) error {
	if a.Queue == nil {
		return ErrQueueNotConfigured
	}
	return a.Queue.SubscribeBuildRequested(ctx, processor.ProcessByID)
}
