package domain

import "time"

// JobStatus enumerates queued job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetryWait JobStatus = "retry_wait"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further dispatch will happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// QueuedJob is a point-in-time snapshot of a job owned by the retry queue.
type QueuedJob struct {
	ID          string    `json:"id"`
	Brief       Brief     `json:"brief"`
	Priority    Priority  `json:"priority"`
	Status      JobStatus `json:"status"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	// InFlight is true while a worker runs the job, including after a cancel request.
	InFlight   bool                `json:"in_flight"`
	ErrorKind  string              `json:"error_kind,omitempty"`
	Error      string              `json:"error,omitempty"`
	Artifact   *MediaArtifact      `json:"artifact,omitempty"`
	History    []GenerationAttempt `json:"history,omitempty"`
	TotalCost  Money               `json:"total_cost"`
	UpdatedAt  time.Time           `json:"updated_at"`
	FinishedAt time.Time           `json:"finished_at,omitempty"`
}
