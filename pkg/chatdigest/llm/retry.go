package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/metrics"
)

// maxRetryAfter caps how long a Retry-After header may stall a call.
const maxRetryAfter = 60 * time.Second

// retrying retries retryable failures with exponential backoff.
type retrying struct {
	next     Completer
	driver   string
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// WithRetry wraps c so retryable failures are attempted up to retries extra
// times. Every call is counted in the llm_requests_total metric.
func WithRetry(c Completer, driver string, retries int, backoff time.Duration, logger *slog.Logger) Completer {
	if logger == nil {
		logger = slog.Default()
	}
	if retries < 0 {
		retries = 0
	}
	return &retrying{
		next:     c,
		driver:   driver,
		attempts: retries + 1,
		backoff:  backoff,
		logger:   logger.With("component", "llm"),
	}
}

func (r *retrying) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	var lastErr error
	delay := r.backoff

	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.next.Complete(ctx, system, user, maxTokens)
		if err == nil {
			metrics.LLMRequestsTotal.WithLabelValues(r.driver, "ok").Inc()
			return out, nil
		}
		lastErr = err
		kind := KindOf(err)
		metrics.LLMRequestsTotal.WithLabelValues(r.driver, kind.String()).Inc()

		if !kind.IsRetryable() || attempt == r.attempts || ctx.Err() != nil {
			break
		}

		wait := delay
		if apiErr, ok := err.(*APIError); ok && apiErr.RetryAfter > 0 {
			wait = min(apiErr.RetryAfter, maxRetryAfter)
		}
		r.logger.Warn("completion failed, retrying",
			"attempt", attempt, "kind", kind.String(), "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return "", lastErr
}
