package ports

import (
	"context"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

// DiscoverySubscriber is the inbound contract for C4: consuming
// project:added/project:removed events and reconciling project rows.
type DiscoverySubscriber interface {
	OnProjectAdded(ctx context.Context, path string) error
	OnProjectRemoved(ctx context.Context, path string) error
}

// WorkerProcessor is the inbound contract for C10: running one dequeued job
// to completion or failure.
type WorkerProcessor interface {
	Process(ctx context.Context, job domain.Job) error
}

// ProjectValidator is the inbound contract for C1.
type ProjectValidator interface {
	Validate(path string) domain.ValidationResult
	Extract(path string) domain.ProjectMetadata
}
