package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maintrack/maintrack/internal/common/cnst"
	"github.com/maintrack/maintrack/internal/common/config"
	"github.com/maintrack/maintrack/pkg/metrics"
	"github.com/maintrack/maintrack/pkg/trace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// queueDef is one named queue: its handler, its worker count and an
// optional downstream queue chained on success.
type queueDef struct {
	name       string
	handler    Handler
	workers    int
	downstream string
}

// Option customizes a queue registration.
type Option func(*queueDef)

// WithDownstream chains a follow-up job (same payload) on the named
// queue after each successful execution.
func WithDownstream(queueName string) Option {
	return func(d *queueDef) { d.downstream = queueName }
}

// WithWorkers overrides the default worker count for this queue.
func WithWorkers(n int) Option {
	return func(d *queueDef) {
		if n > 0 {
			d.workers = n
		}
	}
}

// Manager owns every named queue, the job table and the worker pools.
// The job table is the single source of truth; the claim operation is
// serialized by the table lock, which preserves the single-owner
// invariant across workers.
type Manager struct {
	logger  *zap.Logger
	cfg     config.QueueConfig
	metrics *metrics.Metrics
	tracer  *trace.Builder

	mu     sync.Mutex
	jobs   map[string]*Job
	queues map[string]*queueDef

	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a job queue manager. The metrics handle may be nil.
func NewManager(logger *zap.Logger, cfg config.QueueConfig, m *metrics.Metrics) *Manager {
	return &Manager{
		logger:  logger.Named("queue"),
		cfg:     cfg,
		metrics: m,
		tracer:  trace.Tracer("queue"),
		jobs:    make(map[string]*Job),
		queues:  make(map[string]*queueDef),
	}
}

// Register adds a named queue with its handler. Must be called before
// Start; registering twice replaces the definition.
func (m *Manager) Register(name string, handler Handler, opts ...Option) {
	def := &queueDef{
		name:    name,
		handler: handler,
		workers: m.cfg.Workers,
	}
	for _, opt := range opts {
		opt(def)
	}
	m.mu.Lock()
	m.queues[name] = def
	m.mu.Unlock()
}

// Start launches the worker pools and the purge janitor.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	defs := make([]*queueDef, 0, len(m.queues))
	for _, def := range m.queues {
		defs = append(defs, def)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, def := range defs {
		for i := 0; i < def.workers; i++ {
			m.wg.Add(1)
			go m.workerLoop(ctx, def)
		}
	}

	m.wg.Add(1)
	go m.janitorLoop(ctx)

	m.logger.Info("queue manager started",
		zap.Int("queues", len(defs)),
		zap.Int("workers_per_queue", m.cfg.Workers))
}

// Stop halts claiming and waits for running handlers to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopped = true
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("queue manager stopped")
}

// Submit enqueues a job. Unknown queue names fail at submission time,
// not at claim time. Safe for concurrent use by many producers.
func (m *Manager) Submit(queueName string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return m.submitRaw(queueName, data)
}

func (m *Manager) submitRaw(queueName string, payload json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Jobs submitted before Start wait for the workers; after Stop no
	// worker will ever claim them, so refuse outright.
	if m.stopped {
		return "", cnst.ErrQueueStopped
	}
	if _, ok := m.queues[queueName]; !ok {
		return "", fmt.Errorf("%w: %s", cnst.ErrUnknownQueue, queueName)
	}

	now := time.Now()
	job := &Job{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Payload:     payload,
		MaxAttempts: m.cfg.MaxAttempts,
		State:       StateQueued,
		CreatedAt:   now,
		NextRunAt:   now,
	}
	m.jobs[job.ID] = job

	m.logger.Debug("job submitted",
		zap.String("job_id", job.ID),
		zap.String("queue", queueName))
	return job.ID, nil
}

// Status returns the state of a job.
func (m *Manager) Status(jobID string) (JobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", cnst.ErrJobNotFound
	}
	return job.State, nil
}

// GetJob returns a copy of the job record.
func (m *Manager) GetJob(jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, cnst.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// Stats returns per-state counts for one queue.
func (m *Manager) Stats(queueName string) (QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queueName]; !ok {
		return QueueStats{}, fmt.Errorf("%w: %s", cnst.ErrUnknownQueue, queueName)
	}

	stats := QueueStats{Queue: queueName}
	for _, job := range m.jobs {
		if job.Queue != queueName {
			continue
		}
		switch job.State {
		case StateQueued:
			stats.Waiting++
		case StateRunning:
			stats.Running++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// QueueNames lists the registered queues, sorted.
func (m *Manager) QueueNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Purge removes terminal jobs older than the window. With no explicit
// states only completed jobs are purged; failed jobs are kept for
// audit unless targeted.
func (m *Manager) Purge(olderThan time.Duration, states ...JobState) int {
	if len(states) == 0 {
		states = []JobState{StateCompleted}
	}
	cutoff := time.Now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for id, job := range m.jobs {
		if job.FinishedAt.IsZero() || !job.FinishedAt.Before(cutoff) {
			continue
		}
		for _, state := range states {
			if job.State == state {
				delete(m.jobs, id)
				purged++
				break
			}
		}
	}
	return purged
}

// janitorLoop periodically purges completed jobs past retention.
func (m *Manager) janitorLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Purge(m.cfg.Retention); n > 0 {
				m.logger.Info("purged completed jobs", zap.Int("count", n))
			}
		}
	}
}
