package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// workerLoop claims and executes jobs for one queue until the context
// is cancelled.
func (m *Manager) workerLoop(ctx context.Context, def *queueDef) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job := m.claim(def.name)
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.PollInterval):
			}
			continue
		}

		m.execute(ctx, def, job)
	}
}

// claim atomically takes ownership of the oldest eligible queued job.
// Eligibility is nextRunAt <= now; the table lock guarantees no two
// workers ever own the same job.
func (m *Manager) claim(queueName string) *Job {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *Job
	for _, job := range m.jobs {
		if job.Queue != queueName || job.State != StateQueued || job.NextRunAt.After(now) {
			continue
		}
		if oldest == nil || job.NextRunAt.Before(oldest.NextRunAt) ||
			(job.NextRunAt.Equal(oldest.NextRunAt) && job.CreatedAt.Before(oldest.CreatedAt)) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil
	}
	oldest.State = StateRunning
	return oldest
}

// execute runs the handler with the configured timeout and applies the
// retry policy to the returned classification.
func (m *Manager) execute(ctx context.Context, def *queueDef, job *Job) {
	start := time.Now()
	if m.metrics != nil {
		m.metrics.JobStart(def.name)
	}
	scope := m.tracer.Start(ctx, "job.execute").WithAttrs(
		attribute.String("queue", def.name),
		attribute.String("job_id", job.ID),
		attribute.Int("attempt", job.Attempt+1),
	)

	// The handler works on a private copy; whatever payload it leaves
	// behind is what a downstream queue receives.
	cp := *job
	err := m.runHandler(scope.Ctx, def, &cp)
	scope.End()

	if err == nil {
		m.completeJob(def, job, cp.Payload)
		if m.metrics != nil {
			m.metrics.JobDone(def.name, string(StateCompleted), start)
		}
		return
	}

	terminal := m.failJob(job, err)
	if m.metrics != nil {
		status := string(StateQueued)
		if terminal {
			status = string(StateFailed)
		}
		m.metrics.JobDone(def.name, status, start)
	}
}

// runHandler invokes the handler with a per-job timeout. A panic is a
// failure, not a crash; a timeout is retryable.
func (m *Manager) runHandler(ctx context.Context, def *queueDef, job *Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Retryable(fmt.Errorf("handler panicked: %v", r))
			}
		}()
		done <- def.handler(ctx, job)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return Retryable(fmt.Errorf("handler timed out after %s", m.cfg.HandlerTimeout))
	}
}

func (m *Manager) completeJob(def *queueDef, job *Job, payload json.RawMessage) {
	m.mu.Lock()
	job.State = StateCompleted
	job.FinishedAt = time.Now()
	m.mu.Unlock()

	m.logger.Debug("job completed",
		zap.String("job_id", job.ID),
		zap.String("queue", job.Queue),
		zap.Int("attempt", job.Attempt))

	if def.downstream != "" {
		if _, err := m.submitRaw(def.downstream, payload); err != nil {
			m.logger.Error("failed to submit downstream job",
				zap.String("queue", job.Queue),
				zap.String("downstream", def.downstream),
				zap.Error(err))
		}
	}
}

// failJob applies the retry policy and reports whether the failure was
// terminal.
func (m *Manager) failJob(job *Job, cause error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Attempt++
	job.LastError = cause.Error()

	if IsTerminal(cause) || job.Attempt >= job.MaxAttempts {
		job.State = StateFailed
		job.FinishedAt = time.Now()
		m.logger.Warn("job failed terminally",
			zap.String("job_id", job.ID),
			zap.String("queue", job.Queue),
			zap.Int("attempt", job.Attempt),
			zap.Bool("permanent", IsTerminal(cause)),
			zap.Error(cause))
		return true
	}

	delay := m.backoff(job.Attempt)
	job.State = StateQueued
	job.NextRunAt = time.Now().Add(delay)
	m.logger.Info("job rescheduled",
		zap.String("job_id", job.ID),
		zap.String("queue", job.Queue),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
	return false
}

// backoff computes base * 2^attempt capped at the configured maximum.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.BackoffMax {
			return m.cfg.BackoffMax
		}
	}
	return delay
}
