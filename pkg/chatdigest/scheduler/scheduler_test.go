package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
)

func TestAdd_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name    string
		job     *Job
		wantErr bool
	}{
		{"valid cron", &Job{ID: "a", Schedule: "*/5 * * * *", Run: noop}, false},
		{"valid descriptor", &Job{ID: "b", Schedule: "@every 1m", Run: noop}, false},
		{"missing id", &Job{Schedule: "@hourly", Run: noop}, true},
		{"missing run", &Job{ID: "c", Schedule: "@hourly"}, true},
		{"bad schedule", &Job{ID: "d", Schedule: "every minute", Run: noop}, true},
		{"duplicate", &Job{ID: "a", Schedule: "@hourly", Run: noop}, true},
	}

	s := New(0, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(tt.job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Add() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecute_RecordsOutcome(t *testing.T) {
	s := New(time.Second, nil)

	failing := &Job{ID: "fail", Schedule: "@hourly", Run: func(context.Context) error { return errors.New("boom") }}
	s.Execute(failing)
	if failing.RunCount != 1 || failing.LastError != "boom" || failing.LastRunAt == nil {
		t.Fatalf("unexpected job state %+v", failing)
	}

	panicky := &Job{ID: "panic", Schedule: "@hourly", Run: func(context.Context) error { panic("oops") }}
	s.Execute(panicky)
	if panicky.LastError != "panic: oops" {
		t.Fatalf("LastError = %q", panicky.LastError)
	}
	if s.runningJobs["panic"] {
		t.Fatal("running guard not released after panic")
	}
}

func TestExecute_Timeout(t *testing.T) {
	s := New(time.Second, nil)
	job := &Job{ID: "slow", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	start := time.Now()
	s.Execute(job)
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("job timeout not applied")
	}
	if job.LastError == "" {
		t.Fatal("expected deadline error to be recorded")
	}
}

func TestExecute_SkipsOverlappingRun(t *testing.T) {
	s := New(time.Second, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	job := &Job{ID: "long", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}

	done := make(chan struct{})
	go func() {
		s.Execute(job)
		close(done)
	}()
	<-started
	s.Execute(job)
	close(release)
	<-done

	if job.RunCount != 1 {
		t.Fatalf("RunCount = %d, want 1", job.RunCount)
	}
}

func TestRunForever_Shutdown(t *testing.T) {
	s := New(0, nil)
	if err := s.Add(&Job{ID: "noop", Schedule: "@every 1h", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.RunForever(ctx); !errors.Is(err, daemon.ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}
