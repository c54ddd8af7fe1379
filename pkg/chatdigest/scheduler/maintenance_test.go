package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	requeueBefore time.Time
	requeueMax    int
	staleBefore   time.Time
	err           error
}

func (f *fakeStore) RequeueErroredDocuments(ctx context.Context, startedBefore time.Time, maxAttempts int) (int64, error) {
	f.requeueBefore, f.requeueMax = startedBefore, maxAttempts
	return 2, f.err
}

func (f *fakeStore) FailStalePending(ctx context.Context, startedBefore time.Time) (int64, error) {
	f.staleBefore = startedBefore
	return 1, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestMaintenance_Jobs(t *testing.T) {
	tests := []struct {
		name  string
		retry bool
		want  []string
	}{
		{"retry disabled", false, []string{"db-health", "fail-stale-pending"}},
		{"retry enabled", true, []string{"db-health", "fail-stale-pending", "requeue-errored"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Retry.Enabled = tt.retry
			jobs := NewMaintenance(&fakeStore{}, fakePinger{}, cfg, nil).Jobs()
			if len(jobs) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(jobs), len(tt.want))
			}
			for i, id := range tt.want {
				if jobs[i].ID != id {
					t.Errorf("job %d = %q, want %q", i, jobs[i].ID, id)
				}
			}
		})
	}
}

func TestMaintenance_Register(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.Enabled = true
	s := New(0, nil)
	if err := NewMaintenance(&fakeStore{}, fakePinger{}, cfg, nil).Register(s); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, ok := s.Get("requeue-errored"); !ok {
		t.Fatal("requeue-errored not registered")
	}
}

func TestMaintenance_Cutoffs(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{}
	m := NewMaintenance(st, fakePinger{}, DefaultConfig(), nil)
	m.now = func() time.Time { return now }

	if err := m.RequeueErrored(context.Background()); err != nil {
		t.Fatalf("RequeueErrored failed: %v", err)
	}
	if !st.requeueBefore.Equal(now.Add(-15*time.Minute)) || st.requeueMax != 3 {
		t.Errorf("requeue called with %v, %d", st.requeueBefore, st.requeueMax)
	}

	if err := m.FailStalePending(context.Background()); err != nil {
		t.Fatalf("FailStalePending failed: %v", err)
	}
	if !st.staleBefore.Equal(now.Add(-30 * time.Minute)) {
		t.Errorf("stale cutoff = %v", st.staleBefore)
	}
}

func TestMaintenance_CheckDatabase(t *testing.T) {
	m := NewMaintenance(&fakeStore{}, fakePinger{}, DefaultConfig(), nil)
	if err := m.CheckDatabase(context.Background()); err != nil {
		t.Fatalf("CheckDatabase failed: %v", err)
	}

	down := errors.New("connection refused")
	m = NewMaintenance(&fakeStore{}, fakePinger{err: down}, DefaultConfig(), nil)
	if err := m.CheckDatabase(context.Background()); !errors.Is(err, down) {
		t.Fatalf("expected ping error, got %v", err)
	}
}
