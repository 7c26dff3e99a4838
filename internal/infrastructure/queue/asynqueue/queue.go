// Package asynqueue implements C5, the named priority analysis queue, on
// top of hibiken/asynq and a Redis broker — the same queue stack used for
// provisioning jobs in the reference pipeline this one is modeled after.
// Per-job progress (not natively tracked by asynq) is kept in a small Redis
// hash alongside the broker's own queue.
package asynqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

const TaskTypeAnalyzeProject = "analyze-project"

var queueNames = map[domain.Priority]string{
	domain.PriorityHigh:   "high",
	domain.PriorityNormal: "normal",
	domain.PriorityLow:    "low",
}

// queueWeights gives asynq's weighted queue scheduler a bias toward higher
// priorities while still starving nothing.
var queueWeights = map[string]int{"high": 6, "normal": 3, "low": 1}

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Attempts is the retry policy's attempt count; the shipped default is
	// 1 (no automatic retry), relying on upstream to re-enqueue.
	Attempts int
}

func (c Config) normalize() Config {
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	return c
}

type Queue struct {
	cfg       Config
	client    *asynq.Client
	inspector *asynq.Inspector
	progress  *redis.Client
	logger    *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Queue {
	cfg = cfg.normalize()
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	return &Queue{
		cfg:       cfg,
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		progress: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		logger: logger,
	}
}

func (q *Queue) Close() error {
	_ = q.client.Close()
	_ = q.inspector.Close()
	return q.progress.Close()
}

// Enqueue assigns a stable id analysis-<projectId>-<monotonic-clock> and
// submits the payload to the queue matching its priority.
func (q *Queue) Enqueue(ctx context.Context, payload domain.JobPayload) (string, error) {
	payload.EnqueuedAt = time.Now().UTC()
	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "queue.enqueue", err)
	}

	queueName := queueNames[payload.Priority]
	if queueName == "" {
		queueName = queueNames[domain.PriorityNormal]
	}
	jobID := fmt.Sprintf("analysis-%s-%d", payload.ProjectID, time.Now().UnixNano())

	task := asynq.NewTask(TaskTypeAnalyzeProject, body)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(jobID),
		asynq.MaxRetry(q.cfg.Attempts-1),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return jobID, nil
		}
		return "", domain.WrapError(domain.ErrTemporary, "queue.enqueue", err)
	}

	q.writeProgress(ctx, jobID, queueName, domain.Progress{Status: "waiting", Percent: 0})
	return jobID, nil
}

// Consume runs the asynq server bound to a single handler for
// analyze-project tasks, translating each asynq.Task into a domain.Job.
func (q *Queue) Consume(ctx context.Context, concurrency int, handler func(context.Context, domain.Job) error) error {
	redisOpt := asynq.RedisClientOpt{Addr: q.cfg.RedisAddr, Password: q.cfg.RedisPassword, DB: q.cfg.RedisDB}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queueWeights,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeAnalyzeProject, func(taskCtx context.Context, task *asynq.Task) error {
		var payload domain.JobPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode job payload: %w", err)
		}
		jobID, _ := asynq.GetTaskID(taskCtx)
		retried, _ := asynq.GetRetryCount(taskCtx)

		job := domain.Job{
			ID:         jobID,
			Name:       TaskTypeAnalyzeProject,
			Payload:    payload,
			State:      domain.JobActive,
			Attempts:   retried + 1,
			EnqueuedAt: payload.EnqueuedAt,
		}
		if err := handler(taskCtx, job); err != nil {
			q.logger.Warn("queue_job_failed", "job_id", jobID, "error", err)
			return err
		}
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(mux)
	}()

	select {
	case <-ctx.Done():
		srv.Shutdown()
		return nil
	case err := <-errCh:
		return domain.WrapError(domain.ErrTemporary, "queue.consume", err)
	}
}

func (q *Queue) Counts(ctx context.Context) (map[domain.JobState]int, error) {
	counts := map[domain.JobState]int{
		domain.JobWaiting: 0, domain.JobActive: 0, domain.JobCompleted: 0,
		domain.JobFailed: 0, domain.JobDelayed: 0,
	}
	for _, name := range queueNames {
		stats, err := q.inspector.GetQueueInfo(name)
		if err != nil {
			continue
		}
		counts[domain.JobWaiting] += stats.Pending
		counts[domain.JobActive] += stats.Active
		counts[domain.JobCompleted] += stats.Completed
		counts[domain.JobFailed] += stats.Archived + stats.Retry
		counts[domain.JobDelayed] += stats.Scheduled
	}
	_ = ctx
	return counts, nil
}

func (q *Queue) Pause(ctx context.Context) error {
	_ = ctx
	for _, name := range queueNames {
		if err := q.inspector.PauseQueue(name); err != nil {
			return domain.WrapError(domain.ErrTemporary, "queue.pause", err)
		}
	}
	return nil
}

func (q *Queue) Resume(ctx context.Context) error {
	_ = ctx
	for _, name := range queueNames {
		if err := q.inspector.UnpauseQueue(name); err != nil {
			return domain.WrapError(domain.ErrTemporary, "queue.resume", err)
		}
	}
	return nil
}

// Clear removes completed and failed entries older than olderThan.
func (q *Queue) Clear(ctx context.Context, olderThan time.Duration) (int, error) {
	_ = ctx
	removed := 0
	cutoff := time.Now().Add(-olderThan)
	for _, name := range queueNames {
		completed, err := q.inspector.ListCompletedTasks(name)
		if err == nil {
			for _, info := range completed {
				if info.CompletedAt.Before(cutoff) {
					if err := q.inspector.DeleteTask(name, info.ID); err == nil {
						removed++
					}
				}
			}
		}
		archived, err := q.inspector.ListArchivedTasks(name)
		if err == nil {
			for _, info := range archived {
				if info.LastFailedAt.Before(cutoff) {
					if err := q.inspector.DeleteTask(name, info.ID); err == nil {
						removed++
					}
				}
			}
		}
	}
	return removed, nil
}

// Remove deletes a non-active job. Deleting an active job MUST return a
// conflict rather than silently proceed.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	_ = ctx
	for _, name := range queueNames {
		info, err := q.inspector.GetTaskInfo(name, jobID)
		if err != nil {
			continue
		}
		if info.State == asynq.TaskStateActive {
			return domain.ErrJobConflict
		}
		if err := q.inspector.DeleteTask(name, jobID); err != nil {
			return domain.WrapError(domain.ErrTemporary, "queue.remove", err)
		}
		return nil
	}
	return domain.ErrJobNotFound
}

// ForceDelete moves an active-and-locked job to failed (by requesting
// cooperative cancellation, honoured at the worker's next step boundary)
// then removes it.
func (q *Queue) ForceDelete(ctx context.Context, jobID string) error {
	_ = q.inspector.CancelProcessing(jobID)
	q.markCancelled(ctx, jobID)

	for _, name := range queueNames {
		if _, err := q.inspector.GetTaskInfo(name, jobID); err != nil {
			continue
		}
		if err := q.inspector.DeleteTask(name, jobID); err != nil {
			q.logger.Warn("queue_force_delete_partial", "job_id", jobID, "error", err)
		}
		return nil
	}
	return domain.ErrJobNotFound
}

// ReportProgress is called by the worker processor (C10) to publish its
// current step; it is not part of the AnalysisQueue port because progress
// reporting is a worker-side concern, not a queue admin operation.
func (q *Queue) ReportProgress(ctx context.Context, jobID string, progress domain.Progress) {
	q.writeProgress(ctx, jobID, "", progress)
}

func (q *Queue) IsCancelled(ctx context.Context, jobID string) bool {
	v, err := q.progress.HGet(ctx, progressKey(jobID), "cancelled").Result()
	if err != nil {
		return false
	}
	cancelled, _ := strconv.ParseBool(v)
	return cancelled
}

func (q *Queue) markCancelled(ctx context.Context, jobID string) {
	q.progress.HSet(ctx, progressKey(jobID), "cancelled", "true")
}

func (q *Queue) writeProgress(ctx context.Context, jobID, queueName string, p domain.Progress) {
	fields := map[string]any{
		"status":  p.Status,
		"percent": p.Percent,
		"message": p.Message,
		"error":   p.Error,
	}
	if queueName != "" {
		fields["queue"] = queueName
	}
	if err := q.progress.HSet(ctx, progressKey(jobID), fields).Err(); err != nil {
		q.logger.Warn("queue_progress_write_failed", "job_id", jobID, "error", err)
	}
}

func progressKey(jobID string) string {
	return "job-progress:" + jobID
}
