package daemon

import (
	"context"
	"errors"
	"testing"
	"time"
)

func forever(ctx context.Context) error {
	for {
		if err := Sleep(ctx, 5*time.Millisecond); err != nil {
			return err
		}
	}
}

func TestRun_Shutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := Run(ctx, nil,
		Loop{Name: "a", Run: forever},
		Loop{Name: "b", Run: forever},
	)
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestRun_FaultCancelsSibling(t *testing.T) {
	boom := errors.New("boom")
	siblingStopped := make(chan error, 1)

	err := Run(context.Background(), nil,
		Loop{Name: "failing", Run: func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			return boom
		}},
		Loop{Name: "sibling", Run: func(ctx context.Context) error {
			err := forever(ctx)
			siblingStopped <- err
			return err
		}},
	)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if errors.Is(err, ErrShutdown) {
		t.Fatalf("fault must not be reported as shutdown: %v", err)
	}
	select {
	case serr := <-siblingStopped:
		if !errors.Is(serr, ErrShutdown) {
			t.Errorf("sibling stopped with %v", serr)
		}
	default:
		t.Fatal("sibling was not stopped")
	}
}

func TestRun_Panic(t *testing.T) {
	err := Run(context.Background(), nil,
		Loop{Name: "panicky", Run: func(ctx context.Context) error { panic("oops") }},
		Loop{Name: "sibling", Run: forever},
	)
	if err == nil || errors.Is(err, ErrShutdown) {
		t.Fatalf("expected panic to surface as failure, got %v", err)
	}
}

func TestRun_UnexpectedReturn(t *testing.T) {
	err := Run(context.Background(), nil,
		Loop{Name: "quitter", Run: func(ctx context.Context) error { return nil }},
	)
	if err == nil || errors.Is(err, ErrShutdown) {
		t.Fatalf("expected failure for loop returning nil, got %v", err)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, ErrShutdown) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected shutdown wrapping context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sleep did not return promptly on cancellation")
	}
}
