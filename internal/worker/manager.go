// Package worker runs periodic maintenance jobs in the background.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is used for a job registered without one.
const DefaultInterval = 30 * time.Second

// Job is one periodic task. Run must return promptly; it is never invoked
// concurrently with itself.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)
}

// Manager orchestrates one goroutine per job.
type Manager struct {
	jobs []Job

	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewManager creates a new worker manager.
func NewManager(logger zerolog.Logger, jobs ...Job) *Manager {
	for i := range jobs {
		if jobs[i].Every <= 0 {
			jobs[i].Every = DefaultInterval
		}
	}
	return &Manager{
		jobs:   jobs,
		logger: logger.With().Str("component", "WorkerManager").Logger(),
	}
}

// Start begins the job goroutines.
// Call Stop() to gracefully shut down.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	for _, job := range m.jobs {
		m.wg.Add(1)
		go m.runJob(ctx, job)
	}
	m.logger.Info().Int("jobs", len(m.jobs)).Msg("workers started")
}

// Stop gracefully shuts down all jobs.
// Blocks until every in-progress run has finished.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info().Msg("workers stopped")
}

func (m *Manager) runJob(ctx context.Context, job Job) {
	defer m.wg.Done()

	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(ctx, job)
		}
	}
}

// runOnce keeps a panicking job from taking the process down.
func (m *Manager) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("job", job.Name).Interface("panic", r).Msg("job panicked")
		}
	}()
	job.Run(ctx)
}
