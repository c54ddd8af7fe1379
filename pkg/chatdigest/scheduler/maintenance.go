package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/metrics"
)

// DocumentStore is the storage the maintenance jobs act on.
type DocumentStore interface {
	RequeueErroredDocuments(ctx context.Context, startedBefore time.Time, maxAttempts int) (int64, error)
	FailStalePending(ctx context.Context, startedBefore time.Time) (int64, error)
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RetryConfig controls re-queueing of failed documents.
type RetryConfig struct {
	// Enabled turns on the requeue-errored job. Off by default: a failed
	// document is attempted once.
	Enabled bool `yaml:"enabled"`

	// MaxAttempts is the number of attempts after which a document stays
	// in error.
	MaxAttempts int `yaml:"max_attempts"`

	// After is how long a document stays in error before it is re-queued.
	After time.Duration `yaml:"after"`
}

// Config configures the maintenance jobs.
type Config struct {
	Retry RetryConfig `yaml:"retry"`

	// RetrySchedule is when requeue-errored runs.
	RetrySchedule string `yaml:"retry_schedule"`

	// StalePendingAfter is how long a document may stay pending before it is
	// failed. It must exceed the per-document analysis timeout.
	StalePendingAfter time.Duration `yaml:"stale_pending_after"`

	// StaleSchedule is when fail-stale-pending runs.
	StaleSchedule string `yaml:"stale_schedule"`

	// HealthSchedule is when db-health runs.
	HealthSchedule string `yaml:"health_schedule"`

	// JobTimeout bounds one job run.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// DefaultConfig returns the default maintenance configuration.
func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts: 3,
			After:       15 * time.Minute,
		},
		RetrySchedule:     "*/5 * * * *",
		StalePendingAfter: 30 * time.Minute,
		StaleSchedule:     "*/10 * * * *",
		HealthSchedule:    "@every 1m",
		JobTimeout:        time.Minute,
	}
}

// Maintenance builds the maintenance jobs over a store and database.
type Maintenance struct {
	store  DocumentStore
	db     Pinger
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewMaintenance creates the maintenance job set.
func NewMaintenance(st DocumentStore, db Pinger, cfg Config, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		store:  st,
		db:     db,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "maintenance"),
	}
}

// Jobs returns the jobs to register. requeue-errored is included only when
// retry is enabled.
func (m *Maintenance) Jobs() []*Job {
	jobs := []*Job{
		{ID: "db-health", Schedule: m.cfg.HealthSchedule, Timeout: 10 * time.Second, Run: m.CheckDatabase},
		{ID: "fail-stale-pending", Schedule: m.cfg.StaleSchedule, Run: m.FailStalePending},
	}
	if m.cfg.Retry.Enabled {
		jobs = append(jobs, &Job{ID: "requeue-errored", Schedule: m.cfg.RetrySchedule, Run: m.RequeueErrored})
	}
	return jobs
}

// Register adds every maintenance job to s.
func (m *Maintenance) Register(s *Scheduler) error {
	for _, job := range m.Jobs() {
		if err := s.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// CheckDatabase pings the primary database and records the result.
func (m *Maintenance) CheckDatabase(ctx context.Context) error {
	err := m.db.Ping(ctx)
	metrics.SetDatabaseUp(err == nil)
	if err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// FailStalePending fails documents left pending by a worker that died.
func (m *Maintenance) FailStalePending(ctx context.Context) error {
	n, err := m.store.FailStalePending(ctx, m.now().Add(-m.cfg.StalePendingAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Warn("failed stale pending documents", "count", n)
	}
	return nil
}

// RequeueErrored moves failed documents back to not_started.
func (m *Maintenance) RequeueErrored(ctx context.Context) error {
	n, err := m.store.RequeueErroredDocuments(ctx, m.now().Add(-m.cfg.Retry.After), m.cfg.Retry.MaxAttempts)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("re-queued failed documents", "count", n)
	}
	return nil
}
