package ports

import (
	"context"
	"io"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

// BuildRepository persists asynchronous build state.
type BuildRepository interface {
	Create(ctx context.Context, build *domain.BuildRecord) error
	GetByID(ctx context.Context, id string) (*domain.BuildRecord, error)
	UpdateStatus(ctx context.Context, id string, status domain.BuildStatus, errMessage string) error
	SaveReport(ctx context.Context, id string, report domain.BuildReport) error
}

// ObjectStorage stores source documents grouped by namespace directory.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes build requests.
type MessageQueue interface {
	PublishBuildRequested(ctx context.Context, buildID string) error
	SubscribeBuildRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor turns a stored source document into per-page text.
type TextExtractor interface {
	ExtractPages(ctx context.Context, doc domain.SourceDocument) ([]domain.TextUnit, error)
	ExtractText(ctx context.Context, doc domain.SourceDocument) (string, error)
}

// Chunker splits extracted text into overlapping chunks.
type Chunker interface {
	Split(text string) []domain.Chunk
	SplitUnits(units []domain.TextUnit) []domain.Chunk
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator produces the final answer text from a filled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// IndexStore persists and loads namespace indexes.
type IndexStore interface {
	Build(ctx context.Context, namespace string, chunks []domain.Chunk, vectors [][]float32) (domain.IndexInfo, error)
	Load(ctx context.Context, namespace string) (VectorIndex, error)
	Revision(ctx context.Context, namespace string) (string, error)
	List(ctx context.Context) ([]domain.IndexInfo, error)
}

// VectorIndex is a loaded, read-only index handle.
type VectorIndex interface {
	Info() domain.IndexInfo
	Query(ctx context.Context, vector []float32, k int) ([]domain.RetrievedChunk, error)
}

// TemplateRegistry resolves prompt templates by name.
type TemplateRegistry interface {
	Get(name string) (domain.PromptTemplate, error)
	Names() []string
	Templates() []domain.PromptTemplate
	Fill(name string, bindings map[string]string) (string, error)
}

// ReportWriter renders an answer into a downloadable report.
type ReportWriter interface {
	WriteAnswer(w io.Writer, answer *domain.Answer) error
	ContentType() string
}

// BuildLocker serialises builds of the same namespace.
type BuildLocker interface {
	Lock(ctx context.Context, namespace string) (unlock func(), err error)
}

// Executor runs an external call with retry and circuit breaking.
type Executor interface {
	Run(ctx context.Context, operation string, fn func(context.Context) error) error
}
