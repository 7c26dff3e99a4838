package domain

import "time"

// JobState is the lifecycle state of a queued analysis job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
)

// JobPayload is the body of an analyze-project job, as enqueued by the
// discovery subscriber or re-enqueued by an operator.
type JobPayload struct {
	ProjectID    string    `json:"projectId"`
	ProjectPath  string    `json:"projectPath"`
	ProjectName  string    `json:"projectName"`
	Priority     Priority  `json:"priority"`
	ForceRefresh bool      `json:"forceRefresh"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Progress is the processor's current checkpoint within a job, published on
// the bus and exposed to operator endpoints.
type Progress struct {
	Status  string `json:"status"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Job is the ephemeral queue record backing one payload.
type Job struct {
	ID           string
	Name         string
	Payload      JobPayload
	State        JobState
	Attempts     int
	EnqueuedAt   time.Time
	ProcessedAt  *time.Time
	FinishedAt   *time.Time
	FailedReason string
	Progress     Progress
	// Cancelled is not populated by the queue adapter: ForceDelete records
	// cancellation in the job's progress hash, and the worker processor
	// reads it through ProgressReporter.IsCancelled at its step boundaries
	// rather than from this field.
	Cancelled bool
}

func (j Job) IsTerminal() bool {
	return j.State == JobCompleted || j.State == JobFailed
}
