package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

// ProcessBuildUseCase runs a queued build and records its outcome.
type ProcessBuildUseCase struct {
	repo    ports.BuildRepository
	builder ports.IndexBuilder
}

func NewProcessBuildUseCase(repo ports.BuildRepository, builder ports.IndexBuilder) *ProcessBuildUseCase {
	return &ProcessBuildUseCase{
		repo:    repo,
		builder: builder,
	}
}

func (uc *ProcessBuildUseCase) ProcessByID(ctx context.Context, buildID string) error {
	build, err := uc.repo.GetByID(ctx, buildID)
	if err != nil {
		return fmt.Errorf("fetch build by id: %w", err)
	}
	// redelivered message for a build that already finished
	if build.Status == domain.BuildReady || build.Status == domain.BuildFailed {
		slog.InfoContext(ctx, "build_already_finished", "build_id", buildID, "status", build.Status)
		return nil
	}

	if err := uc.markStatus(ctx, buildID, domain.BuildRunning, ""); err != nil {
		return fmt.Errorf("set status=building: %w", err)
	}

	report, err := uc.builder.BuildNamespace(ctx, build.Namespace)
	if err != nil {
		if failErr := uc.markFailed(ctx, buildID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SaveReport(ctx, buildID, *report); err != nil {
		err = fmt.Errorf("save build report: %w", err)
		if failErr := uc.markFailed(ctx, buildID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, buildID, domain.BuildReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

func (uc *ProcessBuildUseCase) markStatus(ctx context.Context, buildID string, status domain.BuildStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, buildID, status, errMessage)
}

func (uc *ProcessBuildUseCase) markFailed(ctx context.Context, buildID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	// the build context may be cancelled; the status still has to land
	return uc.markStatus(context.WithoutCancel(ctx), buildID, domain.BuildFailed, processErr.Error())
}
