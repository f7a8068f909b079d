package cnst

import "errors"

var (
	// ErrUnknownQueue is returned when submitting to a queue with no registered handler
	ErrUnknownQueue = errors.New("unknown queue")
	// ErrJobNotFound is returned when a job id is not known to the queue
	ErrJobNotFound = errors.New("job not found")
	// ErrSessionNotFound is returned when a session id is not registered
	ErrSessionNotFound = errors.New("session not found")
	// ErrQueueStopped is returned when submitting to a stopped queue
	ErrQueueStopped = errors.New("queue stopped")
)
