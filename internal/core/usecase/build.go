package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

const (
	defaultEmbedBatchSize   = 32
	defaultEmbedConcurrency = 4
)

type BuildConfig struct {
	EmbedBatchSize   int
	EmbedConcurrency int
}

// BuildIndexUseCase turns source documents into a committed namespace index.
// Builds of one namespace are serialised through the locker.
type BuildIndexUseCase struct {
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	store     ports.IndexStore
	locker    ports.BuildLocker
	executor  ports.Executor
	cfg       BuildConfig
}

func NewBuildIndexUseCase(
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	store ports.IndexStore,
	locker ports.BuildLocker,
	executor ports.Executor,
	cfg BuildConfig,
) *BuildIndexUseCase {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = defaultEmbedBatchSize
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = defaultEmbedConcurrency
	}
	return &BuildIndexUseCase{
		storage:   storage,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		locker:    locker,
		executor:  executor,
		cfg:       cfg,
	}
}

// BuildNamespace indexes every file stored under the namespace prefix.
func (uc *BuildIndexUseCase) BuildNamespace(ctx context.Context, namespace string) (*domain.BuildReport, error) {
	if !domain.ValidNamespace(namespace) {
		return nil, invalidNamespace(namespace)
	}
	keys, err := uc.storage.List(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("list sources of %s: %w", namespace, err)
	}

	sources := make([]domain.SourceDocument, 0, len(keys))
	for _, key := range keys {
		rel := strings.TrimPrefix(key, namespace+"/")
		sources = append(sources, domain.SourceDocument{
			ID:         rel,
			Filename:   path.Base(key),
			StorageKey: key,
		})
	}
	return uc.BuildFromSources(ctx, namespace, sources)
}

// BuildFromSources extracts, chunks and embeds sources, then replaces the
// namespace index. A document that fails extraction is reported and skipped;
// the build fails only when no document could be read.
func (uc *BuildIndexUseCase) BuildFromSources(ctx context.Context, namespace string, sources []domain.SourceDocument) (*domain.BuildReport, error) {
	if !domain.ValidNamespace(namespace) {
		return nil, invalidNamespace(namespace)
	}
	if len(sources) == 0 {
		return nil, domain.WrapError(domain.ErrIndexBuild, "build "+namespace, errors.New("no source documents"))
	}

	unlock, err := uc.locker.Lock(ctx, namespace)
	if err != nil {
		return nil, err
	}
	defer unlock()

	chunks, failures, err := uc.collectChunks(ctx, sources)
	if err != nil {
		return nil, err
	}
	if len(failures) == len(sources) {
		return nil, domain.WrapKinds("build "+namespace,
			fmt.Errorf("all %d source documents failed extraction", len(sources)),
			domain.ErrIndexBuild, domain.ErrExtraction)
	}

	info, err := uc.build(ctx, namespace, chunks)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "index_built",
		"namespace", namespace,
		"build_id", info.BuildID,
		"documents", len(sources)-len(failures),
		"failed_documents", len(failures),
		"chunks", info.ChunkCount,
	)
	return &domain.BuildReport{
		Index:           info,
		DocumentCount:   len(sources) - len(failures),
		FailedDocuments: failures,
	}, nil
}

// Build embeds already chunked text and replaces the namespace index with it.
func (uc *BuildIndexUseCase) Build(ctx context.Context, namespace string, chunks []domain.Chunk) (domain.IndexInfo, error) {
	if !domain.ValidNamespace(namespace) {
		return domain.IndexInfo{}, invalidNamespace(namespace)
	}
	unlock, err := uc.locker.Lock(ctx, namespace)
	if err != nil {
		return domain.IndexInfo{}, err
	}
	defer unlock()

	return uc.build(ctx, namespace, chunks)
}

func (uc *BuildIndexUseCase) build(ctx context.Context, namespace string, chunks []domain.Chunk) (domain.IndexInfo, error) {
	if len(chunks) == 0 {
		return domain.IndexInfo{}, domain.WrapError(domain.ErrIndexBuild, "build "+namespace, errors.New("no text to index"))
	}

	vectors, err := uc.embedChunks(ctx, chunks)
	if err != nil {
		return domain.IndexInfo{}, domain.WrapKinds("build "+namespace, err, domain.ErrIndexBuild)
	}

	info, err := uc.store.Build(ctx, namespace, chunks, vectors)
	if err != nil {
		return domain.IndexInfo{}, domain.WrapKinds("build "+namespace, err, domain.ErrIndexBuild)
	}
	return info, nil
}

func (uc *BuildIndexUseCase) collectChunks(ctx context.Context, sources []domain.SourceDocument) ([]domain.Chunk, []domain.DocumentFailure, error) {
	var (
		chunks   []domain.Chunk
		failures []domain.DocumentFailure
	)
	for _, doc := range sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		units, err := uc.extractor.ExtractPages(ctx, doc)
		if err == nil && len(units) == 0 {
			err = domain.WrapError(domain.ErrExtraction, "extract "+doc.ID, errors.New("no pages"))
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			slog.WarnContext(ctx, "build_document_failed", "source_id", doc.ID, "error", err)
			failures = append(failures, domain.DocumentFailure{SourceID: doc.ID, Error: err.Error()})
			continue
		}

		docChunks := uc.chunker.SplitUnits(units)
		if len(docChunks) == 0 {
			slog.WarnContext(ctx, "build_document_failed", "source_id", doc.ID, "error", "no extractable text")
			failures = append(failures, domain.DocumentFailure{SourceID: doc.ID, Error: "no extractable text"})
			continue
		}
		for _, c := range docChunks {
			c.Ordinal = len(chunks)
			chunks = append(chunks, c)
		}
	}
	return chunks, failures, nil
}

// embedChunks embeds chunk texts in batches, several batches at a time. Each
// batch writes into its own slots so the result lines up with chunks.
func (uc *BuildIndexUseCase) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.cfg.EmbedConcurrency)

	for start := 0; start < len(chunks); start += uc.cfg.EmbedBatchSize {
		end := min(start+uc.cfg.EmbedBatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			return run(gctx, uc.executor, "embed", func(callCtx context.Context) error {
				batch, err := uc.embedder.Embed(callCtx, texts)
				if err != nil {
					return err
				}
				if len(batch) != len(texts) {
					return domain.WrapError(domain.ErrEmbeddingService, "embed chunks",
						fmt.Errorf("got %d vectors for %d chunks", len(batch), len(texts)))
				}
				copy(vectors[start:end], batch)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, domain.WrapError(domain.ErrEmbeddingService, "embed chunks",
				fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim))
		}
	}
	return vectors, nil
}

// run goes through the executor when one is configured.
func run(ctx context.Context, executor ports.Executor, operation string, fn func(context.Context) error) error {
	if executor == nil {
		return fn(ctx)
	}
	return executor.Run(ctx, operation, fn)
}

func invalidNamespace(namespace string) error {
	return domain.WrapError(domain.ErrInvalidInput, "validate namespace", fmt.Errorf("%q must match [a-z0-9][a-z0-9_-]*", namespace))
}
