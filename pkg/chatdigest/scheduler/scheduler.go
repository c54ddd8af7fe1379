// Package scheduler runs periodic maintenance jobs next to the two pipeline
// loops. Uses robfig/cron for schedule parsing and execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
)

// Job is one scheduled maintenance task.
type Job struct {
	// ID is the unique job identifier.
	ID string

	// Schedule is a standard 5-field cron expression or descriptor
	// (@hourly, @every 5m, ...).
	Schedule string

	// Timeout bounds a single run. Zero uses the scheduler default.
	Timeout time.Duration

	// Run does the work.
	Run func(ctx context.Context) error

	// LastRunAt is the start of the last execution.
	LastRunAt *time.Time

	// LastError is the error from the last run, if any.
	LastError string

	// RunCount tracks how many times the job has executed.
	RunCount int
}

// Scheduler runs jobs on their cron schedules.
type Scheduler struct {
	jobs map[string]*Job

	cron *cron.Cron

	// runningJobs prevents a job from overlapping with its previous run.
	runningJobs map[string]bool

	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. jobTimeout bounds every run that does not set
// its own timeout.
func New(jobTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		jobs:        make(map[string]*Job),
		runningJobs: make(map[string]bool),
		jobTimeout:  jobTimeout,
		logger:      logger.With("component", "scheduler"),
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.ID)
	}
	if _, err := parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", job.Schedule, job.ID, err)
	}
	s.jobs[job.ID] = job
	s.logger.Debug("job added", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// Get returns a job by ID.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// Start registers every job with cron and starts it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(parser))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.Execute(job) }); err != nil {
			return fmt.Errorf("scheduling job %q: %w", job.ID, err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops cron and waits for running jobs to finish, up to 10 seconds.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	s.logger.Info("scheduler stopped")
}

// RunForever starts the scheduler and blocks until ctx is cancelled, then
// stops it and returns daemon.ErrShutdown.
func (s *Scheduler) RunForever(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return daemon.Shutdown(ctx)
}

// Execute runs a job once with the overlap guard, panic recovery and the
// job timeout. Failures are logged and recorded on the job.
func (s *Scheduler) Execute(job *Job) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return
	}
	s.runningJobs[job.ID] = true
	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		if r := recover(); r != nil {
			job.LastError = fmt.Sprintf("panic: %v", r)
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}
		s.mu.Unlock()
	}()

	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	timeout := s.jobTimeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	err := job.Run(ctx)
	duration := time.Since(now)

	s.mu.Lock()
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err, "duration", duration)
		return
	}
	s.logger.Debug("scheduled job completed", "id", job.ID, "duration", duration)
}
