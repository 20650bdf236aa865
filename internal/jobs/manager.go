// Package jobs runs pipeline requests in the background so that callers
// submit work and collect the outcome from a channel instead of blocking.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/media-transcriber/internal/pipeline"
)

// ErrShuttingDown is returned by Submit after Shutdown was called
var ErrShuttingDown = errors.New("job manager is shutting down")

// Runner executes one pipeline request
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

// Manager owns submitted jobs and the goroutines running them
type Manager struct {
	runner Runner
	slots  chan struct{}
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
}

// NewManager creates a manager running at most maxConcurrent jobs at once.
// Further jobs stay queued until a slot frees up.
func NewManager(runner Runner, maxConcurrent int, logger zerolog.Logger) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner: runner,
		slots:  make(chan struct{}, maxConcurrent),
		logger: logger.With().Str("component", "jobs").Logger(),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*Job),
	}
}

// Submit queues req and returns immediately. The job's Result channel
// delivers the report when the run ends.
func (m *Manager) Submit(req pipeline.Request) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}

	id := generateJobID()
	req.RunID = id
	job := newJob(id, req)
	req.Observer = job
	m.jobs[id] = job

	m.wg.Add(1)
	go m.run(job, req)

	m.logger.Info().
		Str("job_id", id).
		Str("kind", req.Kind.String()).
		Int("inputs", len(req.Identifiers)).
		Msg("Job submitted")
	return job, nil
}

func (m *Manager) run(job *Job, req pipeline.Request) {
	defer m.wg.Done()

	select {
	case m.slots <- struct{}{}:
	case <-m.ctx.Done():
		job.finish(&pipeline.Report{RunID: job.ID, State: pipeline.Failed}, m.ctx.Err())
		return
	}
	defer func() { <-m.slots }()

	job.setRunning()
	report, err := m.runner.Run(m.ctx, req)
	if report == nil {
		report = &pipeline.Report{RunID: job.ID, State: pipeline.Failed}
	}
	job.finish(report, err)

	m.logger.Info().
		Str("job_id", job.ID).
		Str("state", report.State.String()).
		Msg("Job finished")
}

// Get looks up a job by id
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// List returns all known jobs
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// Shutdown stops accepting jobs, cancels running ones and waits for them
// to wind down or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

func generateJobID() string {
	return fmt.Sprintf("job-%s", uuid.New().String())
}
