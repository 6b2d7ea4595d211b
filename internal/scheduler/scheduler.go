package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// State is the scheduler lifecycle phase.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Job is a named periodic task. Run receives a context cancelled when the
// scheduler stops; errors and panics stay inside the job's failure domain.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Options tune scheduler behaviour.
type Options struct {
	StartupDelay time.Duration
}

// Scheduler drives independent periodic jobs with an explicit
// Stopped/Running lifecycle. Start and Stop are idempotent.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	jobs   []Job
	cron   *gocron.Scheduler
	cancel context.CancelFunc
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a job. Jobs registered while running take effect on the
// next Start.
func (s *Scheduler) Register(job Job) {
	if job.Every <= 0 {
		panic("scheduler job interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start transitions Stopped → Running and schedules every registered job.
// Starting an already-running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		s.logger.Debug().Msg("scheduler already running")
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	cron := gocron.NewScheduler(time.UTC)

	for _, job := range s.jobs {
		job := job
		// SingletonMode keeps a slow cycle from overlapping the next one.
		chain := cron.Every(job.Every).SingletonMode()
		if s.opts.StartupDelay > 0 {
			chain = chain.StartAt(time.Now().UTC().Add(s.opts.StartupDelay))
		}
		if _, err := chain.Do(func() {
			s.runJob(jobCtx, job)
		}); err != nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("failed to schedule job")
		}
	}

	cron.StartAsync()
	s.cron = cron
	s.state = StateRunning
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop transitions Running → Stopped, cancelling future runs. In-flight
// executions complete; stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		s.logger.Debug().Msg("scheduler already stopped")
		return
	}

	s.cron.Stop()
	s.cron = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateStopped
	s.logger.Info().Msg("scheduler stopped")
}

// State reports the current lifecycle phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// runJob isolates one execution: a panic or error in one job never stops
// its siblings or the scheduler.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job", job.Name).Interface("panic", r).Msg("job panicked")
		}
	}()

	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Dur("elapsed", time.Since(started)).Msg("job execution failed")
		return
	}
	s.logger.Debug().Str("job", job.Name).Dur("elapsed", time.Since(started)).Msg("job executed")
}
