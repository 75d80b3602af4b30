package domain

import "time"

// AttemptStatus is the outcome of one provider invocation.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptTimedOut  AttemptStatus = "timed_out"
	// AttemptSkipped marks a provider passed over before any call (budget or local rate window).
	AttemptSkipped AttemptStatus = "skipped"
)

// GenerationAttempt records one provider invocation for audit.
type GenerationAttempt struct {
	JobID         string        `json:"job_id"`
	Provider      string        `json:"provider"`
	ProviderJobID string        `json:"provider_job_id,omitempty"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
	Status        AttemptStatus `json:"status"`
	Estimated     Money         `json:"estimated"`
	Charged       Money         `json:"charged"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Terminal reports whether the attempt reached a final status.
func (a GenerationAttempt) Terminal() bool {
	return a.Status != AttemptPending
}

// Fail stamps err onto the attempt and returns the result.
func (a GenerationAttempt) Fail(status AttemptStatus, err error, at time.Time) GenerationAttempt {
	a.Status = status
	a.FinishedAt = at
	a.ErrorKind = ErrorKind(err)
	if err != nil {
		a.Error = err.Error()
	}
	return a
}
