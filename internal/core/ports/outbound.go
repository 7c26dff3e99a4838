package ports

import (
	"context"
	"time"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

// ProjectRepository persists and reads project rows.
type ProjectRepository interface {
	Create(ctx context.Context, project *domain.Project) error
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	GetByPath(ctx context.Context, path string) (*domain.Project, error)
	UpdateDiscovered(ctx context.Context, project *domain.Project) error
	UpdateStatus(ctx context.Context, id string, status domain.ProjectStatus, analyzedAt *time.Time) error
	MarkRemoved(ctx context.Context, path string) error
	ResetStuck(ctx context.Context, id string) error
	UpdateStats(ctx context.Context, id string, fileCount, linesOfCode int, sizeBytes int64) error
}

// AnalysisRepository persists immutable analysis records, atomically with
// the owning project's status transition on completion.
type AnalysisRepository interface {
	CreateWithProjectStatus(ctx context.Context, analysis *domain.Analysis, projectID string) error
	ListByProject(ctx context.Context, projectID string) ([]domain.Analysis, error)
}

// TagRepository persists the weak project<->tag relation.
type TagRepository interface {
	EnsureByName(ctx context.Context, name string) (*domain.Tag, error)
}

// EventBus publishes and subscribes to the process-external pub/sub plane
// decoupling watcher, worker, and realtime fan-out.
type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
	Subscribe(ctx context.Context, topics []domain.EventType, handler func(context.Context, domain.Event) error) error
	Ready() bool
	Close() error
}

// AnalysisQueue is the named priority queue backing C5.
type AnalysisQueue interface {
	Enqueue(ctx context.Context, payload domain.JobPayload) (string, error)
	Consume(ctx context.Context, concurrency int, handler func(context.Context, domain.Job) error) error
	Counts(ctx context.Context) (map[domain.JobState]int, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Clear(ctx context.Context, olderThan time.Duration) (int, error)
	Remove(ctx context.Context, jobID string) error
	ForceDelete(ctx context.Context, jobID string) error
}

// RateLimitedExecutor gates and retries calls to the external analyzer.
type RateLimitedExecutor interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

// ContextExtractor assembles a token-budgeted project context (C7).
type ContextExtractor interface {
	Extract(ctx context.Context, projectPath string, maxTokens int) (domain.ProjectContext, error)
}

// AnalyzerClient calls the external LLM and returns a structured result (C8).
type AnalyzerClient interface {
	Analyze(ctx context.Context, projectContext domain.ProjectContext, projectID string) (domain.Analysis, error)
}

// ResultCache is the fingerprinted artifact store (C9).
type ResultCache interface {
	Get(ctx context.Context, path string, lastModified time.Time) (*domain.CacheEntry, error)
	Set(ctx context.Context, path string, lastModified time.Time, analysis domain.Analysis, ttl time.Duration) error
	Invalidate(ctx context.Context, path string) (int, error)
	ClearExpired(ctx context.Context) (int, error)
	Stats(ctx context.Context) (domain.CacheStats, error)
	Healthy(ctx context.Context) bool
	// RecordHit and RecordMiss are called by the worker processor around
	// each Get, kept outside Get itself so hit/miss accounting stays a
	// deliberate caller decision rather than an implicit side effect.
	RecordHit(ctx context.Context)
	RecordMiss(ctx context.Context)
}

// RealtimeBroadcaster multiplexes bus events to connected clients (C11).
type RealtimeBroadcaster interface {
	Broadcast(event domain.Event)
	Shutdown(ctx context.Context) error
}
