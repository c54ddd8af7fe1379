// Package daemon runs the long-lived worker loops together. The first loop
// to fail for a reason other than shutdown cancels its siblings and its error
// is returned.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrShutdown marks a loop that stopped because its context was cancelled.
var ErrShutdown = errors.New("shutdown requested")

// Shutdown wraps the context cause as ErrShutdown.
func Shutdown(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrShutdown, context.Cause(ctx))
}

// Sleep waits for d or until ctx is done, returning Shutdown(ctx) then.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return Shutdown(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Shutdown(ctx)
	case <-timer.C:
		return nil
	}
}

// Loop is a named, perpetually running task.
type Loop struct {
	Name string
	Run  func(ctx context.Context) error
}

// Run starts every loop concurrently and waits for all of them. It returns
// the first non-shutdown failure, or ErrShutdown when all loops stopped
// because ctx was cancelled.
func Run(ctx context.Context, logger *slog.Logger, loops ...Loop) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "daemon")

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runLoop(ctx, loop)

			switch {
			case err == nil:
				// A loop that returns without error still stops the worker.
				err = fmt.Errorf("%s loop exited unexpectedly", loop.Name)
			case errors.Is(err, ErrShutdown):
				logger.Info("loop stopped", "loop", loop.Name)
				return
			}

			logger.Error("loop failed", "loop", loop.Name, "error", err)
			once.Do(func() {
				firstErr = fmt.Errorf("%s: %w", loop.Name, err)
				cancel(firstErr)
			})
		}()
	}
	logger.Info("worker started", "loops", len(loops))
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return Shutdown(ctx)
}

// runLoop runs one loop, converting a panic into an error.
func runLoop(ctx context.Context, loop Loop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return loop.Run(ctx)
}
