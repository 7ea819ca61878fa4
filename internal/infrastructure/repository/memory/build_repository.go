// Package memory keeps build records in process memory. Records are lost on
// restart; used when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type BuildRepository struct {
	mu     sync.RWMutex
	builds map[string]domain.BuildRecord
	now    func() time.Time
}

func NewBuildRepository() *BuildRepository {
	return &BuildRepository{builds: make(map[string]domain.BuildRecord), now: time.Now}
}

func (r *BuildRepository) Create(_ context.Context, build *domain.BuildRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builds[build.ID]; ok {
		return fmt.Errorf("build %s already exists", build.ID)
	}
	r.builds[build.ID] = cloneBuild(*build)
	return nil
}

func (r *BuildRepository) GetByID(_ context.Context, id string) (*domain.BuildRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	build, ok := r.builds[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrBuildNotFound, "get build", fmt.Errorf("id=%s", id))
	}
	out := cloneBuild(build)
	return &out, nil
}

func (r *BuildRepository) UpdateStatus(_ context.Context, id string, status domain.BuildStatus, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	build, ok := r.builds[id]
	if !ok {
		return domain.WrapError(domain.ErrBuildNotFound, "update build status", fmt.Errorf("id=%s", id))
	}
	build.Status = status
	build.Error = errMessage
	build.UpdatedAt = r.now().UTC()
	r.builds[id] = build
	return nil
}

func (r *BuildRepository) SaveReport(_ context.Context, id string, report domain.BuildReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	build, ok := r.builds[id]
	if !ok {
		return domain.WrapError(domain.ErrBuildNotFound, "save build report", fmt.Errorf("id=%s", id))
	}
	build.DocumentCount = report.DocumentCount
	build.ChunkCount = report.Index.ChunkCount
	build.FailedDocuments = append([]domain.DocumentFailure{}, report.FailedDocuments...)
	build.UpdatedAt = r.now().UTC()
	r.builds[id] = build
	return nil
}

func cloneBuild(b domain.BuildRecord) domain.BuildRecord {
	b.FailedDocuments = append([]domain.DocumentFailure{}, b.FailedDocuments...)
	return b
}
