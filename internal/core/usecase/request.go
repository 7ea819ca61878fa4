package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

// BuildRequestUseCase stores sources and queues builds for the worker.
type BuildRequestUseCase struct {
	repo    ports.BuildRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	now     func() time.Time
}

func NewBuildRequestUseCase(
	repo ports.BuildRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *BuildRequestUseCase {
	return &BuildRequestUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		now:     time.Now,
	}
}

func (uc *BuildRequestUseCase) RequestBuild(ctx context.Context, namespace string) (*domain.BuildRecord, error) {
	if !domain.ValidNamespace(namespace) {
		return nil, invalidNamespace(namespace)
	}

	now := uc.now().UTC()
	build := &domain.BuildRecord{
		ID:              uuid.NewString(),
		Namespace:       namespace,
		Status:          domain.BuildQueued,
		FailedDocuments: []domain.DocumentFailure{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := uc.repo.Create(ctx, build); err != nil {
		return nil, fmt.Errorf("create build record: %w", err)
	}

	if err := uc.queue.PublishBuildRequested(ctx, build.ID); err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, build.ID, domain.BuildFailed, err.Error()); failErr != nil {
			return nil, fmt.Errorf("publish build request: %w; mark failed status: %v", err, failErr)
		}
		return nil, fmt.Errorf("publish build request: %w", err)
	}
	return build, nil
}

func (uc *BuildRequestUseCase) GetByID(ctx context.Context, id string) (*domain.BuildRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get build", errors.New("empty build id"))
	}
	return uc.repo.GetByID(ctx, id)
}

// UploadSource stores a file under the namespace; it is picked up by the next build.
func (uc *BuildRequestUseCase) UploadSource(ctx context.Context, namespace, filename string, body io.Reader) (*domain.SourceDocument, error) {
	if !domain.ValidNamespace(namespace) {
		return nil, invalidNamespace(namespace)
	}
	name := sanitizeFilename(filename)
	key := namespace + "/" + name

	if err := uc.storage.Save(ctx, key, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	return &domain.SourceDocument{
		ID:         name,
		Filename:   name,
		StorageKey: key,
	}, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." || strings.Trim(base, "_.") == "" {
		return "document.bin"
	}
	return base
}
