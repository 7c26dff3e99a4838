package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/repowatch/internal/core/domain"
	"github.com/kirillkom/repowatch/internal/core/ports"
)

// DiscoverySubscriberUseCase implements C4: reconciling directory-watcher
// signals into project rows and bus events.
type DiscoverySubscriberUseCase struct {
	repo      ports.ProjectRepository
	validator ports.ProjectValidator
	bus       ports.EventBus
	queue     ports.AnalysisQueue
}

func NewDiscoverySubscriberUseCase(
	repo ports.ProjectRepository,
	validator ports.ProjectValidator,
	bus ports.EventBus,
	queue ports.AnalysisQueue,
) *DiscoverySubscriberUseCase {
	return &DiscoverySubscriberUseCase{repo: repo, validator: validator, bus: bus, queue: queue}
}

// OnProjectAdded re-verifies the path, classifies it, and upserts by path.
// A unique-constraint race (two watcher events for the same new path) is
// resolved by re-reading the row the other writer created rather than
// treating the conflict as failure.
func (uc *DiscoverySubscriberUseCase) OnProjectAdded(ctx context.Context, path string) error {
	verdict := uc.validator.Validate(path)
	if !verdict.Valid {
		return nil
	}

	existing, err := uc.repo.GetByPath(ctx, path)
	if err == nil {
		return uc.reconcileExisting(ctx, existing)
	}
	if !domain.IsKind(err, domain.ErrProjectNotFound) {
		return fmt.Errorf("lookup project by path: %w", err)
	}

	meta := uc.validator.Extract(path)
	now := time.Now().UTC()
	project := &domain.Project{
		ID:             uuid.NewString(),
		Name:           filepath.Base(path),
		Path:           path,
		Framework:      meta.Framework,
		Language:       meta.Language,
		PackageManager: meta.PackageManager,
		FileCount:      meta.FileCount,
		LinesOfCode:    meta.LinesOfCode,
		SizeBytes:      meta.SizeBytes,
		LastModified:   time.Unix(meta.LastModified, 0).UTC(),
		Status:         domain.StatusDiscovered,
		IsActive:       true,
		DiscoveredAt:   now,
		UpdatedAt:      now,
	}

	if err := uc.repo.Create(ctx, project); err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			reread, rereadErr := uc.repo.GetByPath(ctx, path)
			if rereadErr != nil {
				return fmt.Errorf("reread project after create race: %w", rereadErr)
			}
			return uc.reconcileExisting(ctx, reread)
		}
		return fmt.Errorf("create discovered project: %w", err)
	}

	if err := uc.bus.Publish(ctx, domain.NewEvent(domain.EventProjectAdded, project.ID, project)); err != nil {
		return fmt.Errorf("publish project added event: %w", err)
	}

	if _, err := uc.queue.Enqueue(ctx, domain.JobPayload{
		ProjectID:   project.ID,
		ProjectPath: project.Path,
		ProjectName: project.Name,
		Priority:    domain.PriorityNormal,
	}); err != nil {
		return fmt.Errorf("enqueue analysis for discovered project: %w", err)
	}
	if err := uc.repo.UpdateStatus(ctx, project.ID, domain.StatusQueued, nil); err != nil {
		return fmt.Errorf("advance discovered project to queued: %w", err)
	}
	return nil
}

// reconcileExisting refreshes descriptive fields on a re-discovered path.
// Projects mid-pipeline (ANALYZING, QUEUED) keep their status untouched.
func (uc *DiscoverySubscriberUseCase) reconcileExisting(ctx context.Context, existing *domain.Project) error {
	if !existing.Status.CanTransitionOnDiscover() {
		existing.IsActive = true
		if err := uc.repo.UpdateStats(ctx, existing.ID, existing.FileCount, existing.LinesOfCode, existing.SizeBytes); err != nil {
			return fmt.Errorf("refresh in-flight project stats: %w", err)
		}
		return nil
	}

	meta := uc.validator.Extract(existing.Path)
	existing.Framework = meta.Framework
	existing.Language = meta.Language
	existing.PackageManager = meta.PackageManager
	existing.FileCount = meta.FileCount
	existing.LinesOfCode = meta.LinesOfCode
	existing.SizeBytes = meta.SizeBytes
	existing.LastModified = time.Unix(meta.LastModified, 0).UTC()
	existing.IsActive = true

	if err := uc.repo.UpdateDiscovered(ctx, existing); err != nil {
		return fmt.Errorf("update rediscovered project: %w", err)
	}
	if err := uc.bus.Publish(ctx, domain.NewEvent(domain.EventProjectUpdated, existing.ID, existing)); err != nil {
		return fmt.Errorf("publish project updated event: %w", err)
	}
	return nil
}

// OnProjectRemoved marks the project inactive without deleting history.
func (uc *DiscoverySubscriberUseCase) OnProjectRemoved(ctx context.Context, path string) error {
	project, err := uc.repo.GetByPath(ctx, path)
	if err != nil {
		if domain.IsKind(err, domain.ErrProjectNotFound) {
			return nil
		}
		return fmt.Errorf("lookup removed project: %w", err)
	}

	if err := uc.repo.MarkRemoved(ctx, path); err != nil {
		return fmt.Errorf("mark project removed: %w", err)
	}
	if err := uc.bus.Publish(ctx, domain.NewEvent(domain.EventProjectRemoved, project.ID, project)); err != nil {
		return fmt.Errorf("publish project removed event: %w", err)
	}
	return nil
}

// ResetStuck is the admin counterpart used after an operator force-deletes
// a job: it returns the owning project to DISCOVERED so it can be
// re-enqueued.
func (uc *DiscoverySubscriberUseCase) ResetStuck(ctx context.Context, projectID string) error {
	return uc.repo.ResetStuck(ctx, projectID)
}
