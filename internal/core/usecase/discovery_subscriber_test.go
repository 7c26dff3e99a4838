package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

type discoveryRepoFake struct {
	byPath      map[string]*domain.Project
	created     *domain.Project
	updated     *domain.Project
	removedPath string
}

func newDiscoveryRepoFake() *discoveryRepoFake {
	return &discoveryRepoFake{byPath: map[string]*domain.Project{}}
}

func (f *discoveryRepoFake) Create(_ context.Context, p *domain.Project) error {
	if _, exists := f.byPath[p.Path]; exists {
		return domain.ErrInvalidInput
	}
	copyP := *p
	f.byPath[p.Path] = &copyP
	f.created = &copyP
	return nil
}
func (f *discoveryRepoFake) GetByID(context.Context, string) (*domain.Project, error) {
	return nil, errors.New("not implemented")
}
func (f *discoveryRepoFake) GetByPath(_ context.Context, path string) (*domain.Project, error) {
	if p, ok := f.byPath[path]; ok {
		copyP := *p
		return &copyP, nil
	}
	return nil, domain.ErrProjectNotFound
}
func (f *discoveryRepoFake) UpdateDiscovered(_ context.Context, p *domain.Project) error {
	copyP := *p
	f.byPath[p.Path] = &copyP
	f.updated = &copyP
	return nil
}
func (f *discoveryRepoFake) UpdateStatus(_ context.Context, id string, status domain.ProjectStatus, _ *time.Time) error {
	for path, p := range f.byPath {
		if p.ID == id {
			f.byPath[path].Status = status
			if f.created != nil && f.created.ID == id {
				f.created.Status = status
			}
		}
	}
	return nil
}
func (f *discoveryRepoFake) MarkRemoved(_ context.Context, path string) error {
	f.removedPath = path
	if p, ok := f.byPath[path]; ok {
		p.IsActive = false
		p.Status = domain.StatusArchived
	}
	return nil
}
func (f *discoveryRepoFake) ResetStuck(context.Context, string) error { return nil }
func (f *discoveryRepoFake) UpdateStats(_ context.Context, id string, fileCount, linesOfCode int, sizeBytes int64) error {
	return nil
}

type discoveryValidatorFake struct {
	result domain.ValidationResult
	meta   domain.ProjectMetadata
}

func (f *discoveryValidatorFake) Validate(string) domain.ValidationResult { return f.result }
func (f *discoveryValidatorFake) Extract(string) domain.ProjectMetadata   { return f.meta }

type discoveryBusFake struct {
	published []domain.Event
}

func (f *discoveryBusFake) Publish(_ context.Context, e domain.Event) error {
	f.published = append(f.published, e)
	return nil
}
func (f *discoveryBusFake) Subscribe(context.Context, []domain.EventType, func(context.Context, domain.Event) error) error {
	return errors.New("not implemented")
}
func (f *discoveryBusFake) Ready() bool  { return true }
func (f *discoveryBusFake) Close() error { return nil }

type discoveryQueueFake struct {
	enqueued []domain.JobPayload
}

func (f *discoveryQueueFake) Enqueue(_ context.Context, payload domain.JobPayload) (string, error) {
	f.enqueued = append(f.enqueued, payload)
	return "job-1", nil
}
func (f *discoveryQueueFake) Consume(context.Context, int, func(context.Context, domain.Job) error) error {
	return errors.New("not implemented")
}
func (f *discoveryQueueFake) Counts(context.Context) (map[domain.JobState]int, error) { return nil, nil }
func (f *discoveryQueueFake) Pause(context.Context) error                             { return nil }
func (f *discoveryQueueFake) Resume(context.Context) error                            { return nil }
func (f *discoveryQueueFake) Clear(context.Context, time.Duration) (int, error)        { return 0, nil }
func (f *discoveryQueueFake) Remove(context.Context, string) error                     { return nil }
func (f *discoveryQueueFake) ForceDelete(context.Context, string) error                { return nil }

func TestOnProjectAddedCreatesAndEnqueuesNewProject(t *testing.T) {
	repo := newDiscoveryRepoFake()
	validator := &discoveryValidatorFake{result: domain.ValidationResult{Valid: true, Type: "web-app"}}
	bus := &discoveryBusFake{}
	queue := &discoveryQueueFake{}
	uc := NewDiscoverySubscriberUseCase(repo, validator, bus, queue)

	if err := uc.OnProjectAdded(context.Background(), "/repos/demo"); err != nil {
		t.Fatalf("OnProjectAdded() error = %v", err)
	}
	if repo.created == nil {
		t.Fatalf("expected project created")
	}
	if len(bus.published) != 1 || bus.published[0].Type != domain.EventProjectAdded {
		t.Fatalf("expected one project:added event, got %v", bus.published)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(queue.enqueued))
	}
	if repo.created.Status != domain.StatusQueued {
		t.Fatalf("expected status QUEUED after enqueue, got %v", repo.created.Status)
	}
}

func TestOnProjectAddedSkipsInvalidDirectory(t *testing.T) {
	repo := newDiscoveryRepoFake()
	validator := &discoveryValidatorFake{result: domain.ValidationResult{Valid: false}}
	bus := &discoveryBusFake{}
	queue := &discoveryQueueFake{}
	uc := NewDiscoverySubscriberUseCase(repo, validator, bus, queue)

	if err := uc.OnProjectAdded(context.Background(), "/tmp/not-a-project"); err != nil {
		t.Fatalf("OnProjectAdded() error = %v", err)
	}
	if repo.created != nil {
		t.Fatalf("expected no project created for invalid directory")
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected no events published")
	}
}

func TestOnProjectAddedPreservesStatusForInFlightProject(t *testing.T) {
	repo := newDiscoveryRepoFake()
	repo.byPath["/repos/demo"] = &domain.Project{ID: "p-1", Path: "/repos/demo", Status: domain.StatusAnalyzing}
	validator := &discoveryValidatorFake{result: domain.ValidationResult{Valid: true}}
	bus := &discoveryBusFake{}
	queue := &discoveryQueueFake{}
	uc := NewDiscoverySubscriberUseCase(repo, validator, bus, queue)

	if err := uc.OnProjectAdded(context.Background(), "/repos/demo"); err != nil {
		t.Fatalf("OnProjectAdded() error = %v", err)
	}
	if repo.byPath["/repos/demo"].Status != domain.StatusAnalyzing {
		t.Fatalf("expected status to remain ANALYZING")
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected no events for an in-flight re-discovery, got %v", bus.published)
	}
}

func TestOnProjectRemovedMarksInactiveAndPublishes(t *testing.T) {
	repo := newDiscoveryRepoFake()
	repo.byPath["/repos/demo"] = &domain.Project{ID: "p-1", Path: "/repos/demo", Status: domain.StatusAnalyzed, IsActive: true}
	bus := &discoveryBusFake{}
	uc := NewDiscoverySubscriberUseCase(repo, &discoveryValidatorFake{}, bus, &discoveryQueueFake{})

	if err := uc.OnProjectRemoved(context.Background(), "/repos/demo"); err != nil {
		t.Fatalf("OnProjectRemoved() error = %v", err)
	}
	if repo.removedPath != "/repos/demo" {
		t.Fatalf("expected MarkRemoved called with path")
	}
	if repo.byPath["/repos/demo"].Status != domain.StatusArchived {
		t.Fatalf("expected status ARCHIVED after removal, got %v", repo.byPath["/repos/demo"].Status)
	}
	if len(bus.published) != 1 || bus.published[0].Type != domain.EventProjectRemoved {
		t.Fatalf("expected one project:removed event, got %v", bus.published)
	}
}

func TestOnProjectRemovedIsIdempotentForUnknownPath(t *testing.T) {
	repo := newDiscoveryRepoFake()
	bus := &discoveryBusFake{}
	uc := NewDiscoverySubscriberUseCase(repo, &discoveryValidatorFake{}, bus, &discoveryQueueFake{})

	if err := uc.OnProjectRemoved(context.Background(), "/never/seen"); err != nil {
		t.Fatalf("OnProjectRemoved() error = %v", err)
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected no events for unknown path")
	}
}
