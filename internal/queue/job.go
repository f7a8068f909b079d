package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// JobState is the lifecycle state of a job.
type JobState string

const (
	// StateQueued means the job is waiting for a worker, either fresh
	// or rescheduled after a retryable failure.
	StateQueued JobState = "queued"
	// StateRunning means exactly one worker owns the job.
	StateRunning JobState = "running"
	// StateCompleted is terminal success.
	StateCompleted JobState = "completed"
	// StateFailed is terminal failure: attempts exhausted or a
	// permanent error. No further transitions occur.
	StateFailed JobState = "failed"
)

// Job is one unit of retryable background work.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	State       JobState        `json:"state"`
	CreatedAt   time.Time       `json:"createdAt"`
	NextRunAt   time.Time       `json:"nextRunAt"`
	FinishedAt  time.Time       `json:"finishedAt,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
}

// Handler executes one job. A nil return completes the job. Errors are
// classified by the handler itself: wrap with Terminal for permanent
// failures, Retryable for transient ones. An unwrapped error counts as
// retryable. The handler receives a private copy of the job; the
// payload it leaves behind is forwarded to the downstream queue, so a
// handler may rewrite it to shape the chained job.
type Handler func(ctx context.Context, job *Job) error

// terminalError marks a failure that retrying cannot fix.
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// retryableError marks a transient failure worth retrying.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Terminal wraps err so the queue fails the job without retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Retryable wraps err so the queue reschedules the job with backoff.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsTerminal reports whether err was classified as permanent.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// QueueStats is a point-in-time count of jobs per state for one queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}
