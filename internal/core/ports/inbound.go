package ports

import (
	"context"
	"io"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

// IndexBuilder is the inbound contract for synchronous index builds.
type IndexBuilder interface {
	BuildFromSources(ctx context.Context, namespace string, sources []domain.SourceDocument) (*domain.BuildReport, error)
	BuildNamespace(ctx context.Context, namespace string) (*domain.BuildReport, error)
}

// Answerer is the inbound contract for retrieval-augmented answers.
type Answerer interface {
	Answer(ctx context.Context, namespace, question, template string) (*domain.Answer, error)
}

// Catalog lists what can be queried.
type Catalog interface {
	ListNamespaces(ctx context.Context) ([]domain.IndexInfo, error)
	TemplateNames() []string
	Templates() []domain.PromptTemplate
}

// SourceUploader stores a source document under a namespace for the next build.
type SourceUploader interface {
	UploadSource(ctx context.Context, namespace, filename string, body io.Reader) (*domain.SourceDocument, error)
}

// QuestionReader turns an uploaded document into question text.
type QuestionReader interface {
	ReadQuestion(ctx context.Context, filename string, body io.Reader) (string, error)
}

// BuildRequester is the inbound contract for queued builds.
type BuildRequester interface {
	RequestBuild(ctx context.Context, namespace string) (*domain.BuildRecord, error)
}

// BuildReader is the inbound read model for build state.
type BuildReader interface {
	GetByID(ctx context.Context, id string) (*domain.BuildRecord, error)
}

// BuildProcessor is the inbound contract for asynchronous build processing.
type BuildProcessor interface {
	ProcessByID(ctx context.Context, buildID string) error
}
