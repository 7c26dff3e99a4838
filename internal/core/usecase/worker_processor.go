package usecase

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/repowatch/internal/core/domain"
	"github.com/kirillkom/repowatch/internal/core/ports"
)

// ProgressReporter is the worker-side signalling surface the queue exposes
// alongside the admin-facing AnalysisQueue port: per-job progress and
// cooperative-cancellation checks the processor consults at each step
// boundary.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, jobID string, progress domain.Progress)
	IsCancelled(ctx context.Context, jobID string) bool
}

const (
	contextExtractionTimeout = 30 * time.Second
	analyzerCallTimeout      = 180 * time.Second
)

// WorkerProcessorUseCase implements C10: the nine-step per-job pipeline
// that turns a queued analysis job into a persisted Analysis record.
type WorkerProcessorUseCase struct {
	projects  ports.ProjectRepository
	analyses  ports.AnalysisRepository
	bus       ports.EventBus
	extractor ports.ContextExtractor
	executor  ports.RateLimitedExecutor
	analyzer  ports.AnalyzerClient
	cache     ports.ResultCache
	progress  ProgressReporter

	cacheTTL  time.Duration
	maxTokens int
}

func NewWorkerProcessorUseCase(
	projects ports.ProjectRepository,
	analyses ports.AnalysisRepository,
	bus ports.EventBus,
	extractor ports.ContextExtractor,
	executor ports.RateLimitedExecutor,
	analyzer ports.AnalyzerClient,
	cache ports.ResultCache,
	progress ProgressReporter,
	cacheTTL time.Duration,
	maxContextTokens int,
) *WorkerProcessorUseCase {
	return &WorkerProcessorUseCase{
		projects: projects, analyses: analyses, bus: bus, extractor: extractor,
		executor: executor, analyzer: analyzer, cache: cache, progress: progress,
		cacheTTL: cacheTTL, maxTokens: maxContextTokens,
	}
}

// Process runs one job to completion or a published failure. A processor
// failure is never retried by the processor itself; that decision belongs
// to whatever re-enqueues the job.
func (uc *WorkerProcessorUseCase) Process(ctx context.Context, job domain.Job) error {
	payload := job.Payload
	if uc.checkCancelled(ctx, job.ID) {
		return uc.cancelled(ctx, job.ID, payload.ProjectID)
	}

	if err := uc.projects.UpdateStatus(ctx, payload.ProjectID, domain.StatusAnalyzing, nil); err != nil {
		return uc.failWith(ctx, job.ID, payload.ProjectID, "mark_analyzing", err)
	}

	if err := uc.bus.Publish(ctx, domain.NewEvent(domain.EventAnalysisStarted, payload.ProjectID, payload)); err != nil {
		return uc.failWith(ctx, job.ID, payload.ProjectID, "publish_started", err)
	}
	uc.report(ctx, job.ID, "started", 5, "")

	info, err := os.Stat(payload.ProjectPath)
	if err != nil {
		return uc.failWith(ctx, job.ID, payload.ProjectID, "stat_project_path", err)
	}
	lastModified := info.ModTime()

	if uc.checkCancelled(ctx, job.ID) {
		return uc.cancelled(ctx, job.ID, payload.ProjectID)
	}

	var analysis domain.Analysis
	var cacheHit bool
	if !payload.ForceRefresh {
		entry, err := uc.cache.Get(ctx, payload.ProjectPath, lastModified)
		if err != nil {
			return uc.failWith(ctx, job.ID, payload.ProjectID, "cache_lookup", err)
		}
		if entry != nil {
			uc.cache.RecordHit(ctx)
			analysis = entry.Analysis
			analysis.CacheHit = true
			cacheHit = true
		} else {
			uc.cache.RecordMiss(ctx)
		}
	}
	uc.report(ctx, job.ID, "cache_checked", 15, "")

	if !cacheHit {
		if uc.checkCancelled(ctx, job.ID) {
			return uc.cancelled(ctx, job.ID, payload.ProjectID)
		}

		extractCtx, cancel := context.WithTimeout(ctx, contextExtractionTimeout)
		projectContext, err := uc.extractor.Extract(extractCtx, payload.ProjectPath, uc.maxTokens)
		cancel()
		if err != nil {
			return uc.failWith(ctx, job.ID, payload.ProjectID, "context_extraction", err)
		}
		uc.report(ctx, job.ID, "context_extracted", 35, "")

		if err := uc.projects.UpdateStats(ctx, payload.ProjectID, projectContext.FileCount, projectContext.LinesOfCode, projectContext.TotalSize); err != nil {
			return uc.failWith(ctx, job.ID, payload.ProjectID, "update_stats", err)
		}

		if uc.checkCancelled(ctx, job.ID) {
			return uc.cancelled(ctx, job.ID, payload.ProjectID)
		}

		analyzeCtx, cancel := context.WithTimeout(ctx, analyzerCallTimeout)
		err = uc.executor.Execute(analyzeCtx, func(attemptCtx context.Context) error {
			result, analyzeErr := uc.analyzer.Analyze(attemptCtx, projectContext, payload.ProjectID)
			if analyzeErr != nil {
				return analyzeErr
			}
			analysis = result
			return nil
		})
		cancel()
		if err != nil {
			return uc.failWith(ctx, job.ID, payload.ProjectID, "analyze", err)
		}
		uc.report(ctx, job.ID, "analyzed", 70, "")

		if err := uc.cache.Set(ctx, payload.ProjectPath, lastModified, analysis, uc.cacheTTL); err != nil {
			return uc.failWith(ctx, job.ID, payload.ProjectID, "cache_write", err)
		}
	}
	uc.report(ctx, job.ID, "cached", 85, "")

	if uc.checkCancelled(ctx, job.ID) {
		return uc.cancelled(ctx, job.ID, payload.ProjectID)
	}

	analysis.ID = uuid.NewString()
	analysis.ProjectID = payload.ProjectID
	analysis.CreatedAt = time.Now().UTC()

	if err := uc.analyses.CreateWithProjectStatus(ctx, &analysis, payload.ProjectID); err != nil {
		return uc.failWith(ctx, job.ID, payload.ProjectID, "persist_analysis", err)
	}

	if err := uc.bus.Publish(ctx, domain.NewEvent(domain.EventAnalysisCompleted, payload.ProjectID, analysis)); err != nil {
		return uc.failWith(ctx, job.ID, payload.ProjectID, "publish_completed", err)
	}
	uc.report(ctx, job.ID, "completed", 100, "")
	return nil
}

func (uc *WorkerProcessorUseCase) checkCancelled(ctx context.Context, jobID string) bool {
	return uc.progress.IsCancelled(ctx, jobID)
}

func (uc *WorkerProcessorUseCase) cancelled(ctx context.Context, jobID, projectID string) error {
	uc.report(ctx, jobID, "cancelled", 0, "cancelled by operator")
	_ = uc.bus.Publish(ctx, domain.NewEvent(domain.EventAnalysisFailed, projectID, domain.Progress{Status: "cancelled"}))
	return nil
}

func (uc *WorkerProcessorUseCase) failWith(ctx context.Context, jobID, projectID, step string, err error) error {
	reason := fmt.Sprintf("%s: %v", step, err)
	uc.report(ctx, jobID, "failed", 0, reason)
	// A failed status update never masks the original failure reason; the
	// project simply stays in its prior state until the next reconcile.
	_ = uc.projects.UpdateStatus(ctx, projectID, domain.StatusError, nil)
	_ = uc.bus.Publish(ctx, domain.NewEvent(domain.EventAnalysisFailed, projectID, domain.Progress{Status: "failed", Error: reason}))
	return fmt.Errorf("worker processor step %s: %w", step, err)
}

func (uc *WorkerProcessorUseCase) report(ctx context.Context, jobID, status string, percent int, message string) {
	uc.progress.ReportProgress(ctx, jobID, domain.Progress{Status: status, Percent: percent, Message: message})
}
