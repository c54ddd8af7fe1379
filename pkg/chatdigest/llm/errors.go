package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorKind classifies API errors for retry decisions.
type ErrorKind int

const (
	ErrorRetryable  ErrorKind = iota // generic retryable (transient 5xx)
	ErrorRateLimit                   // 429, should respect Retry-After
	ErrorOverloaded                  // 529 or "overloaded" in body
	ErrorTimeout                     // request timeout / deadline exceeded
	ErrorAuth                        // 401, 403
	ErrorBilling                     // 402 or quota exhausted
	ErrorContext                     // prompt exceeds the context window
	ErrorBadRequest                  // 400
	ErrorFatal                       // everything else
)

// String returns a label suitable for logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case ErrorRetryable:
		return "retryable"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorOverloaded:
		return "overloaded"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBilling:
		return "billing"
	case ErrorContext:
		return "context"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsRetryable returns true if the error kind warrants retrying.
func (k ErrorKind) IsRetryable() bool {
	return k == ErrorRetryable || k == ErrorRateLimit || k == ErrorOverloaded || k == ErrorTimeout
}

// APIError captures a failed provider response.
type APIError struct {
	StatusCode int
	Body       string
	Kind       ErrorKind
	RetryAfter time.Duration
	Provider   string
	Model      string
}

func (e *APIError) Error() string {
	prefix := e.Provider
	if e.Model != "" {
		prefix += " (" + e.Model + ")"
	}
	if prefix != "" {
		prefix += ": "
	}
	return fmt.Sprintf("%sAPI returned %d (%s): %s", prefix, e.StatusCode, e.Kind, truncate(e.Body, 200))
}

// ErrEmptyCompletion is returned when the provider answered without text.
var ErrEmptyCompletion = errors.New("model returned no text")

// classifyAPIError determines the error kind from status code and response body.
func classifyAPIError(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if strings.Contains(bodyLower, "context_length_exceeded") ||
		strings.Contains(bodyLower, "maximum context length") ||
		strings.Contains(bodyLower, "prompt is too long") {
		return ErrorContext
	}

	if statusCode == 402 ||
		strings.Contains(bodyLower, "insufficient_quota") ||
		strings.Contains(bodyLower, "billing") {
		return ErrorBilling
	}

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") {
		return ErrorRateLimit
	}

	if statusCode == 529 || strings.Contains(bodyLower, "overloaded") {
		return ErrorOverloaded
	}

	switch statusCode {
	case 400:
		return ErrorBadRequest
	case 401, 403:
		return ErrorAuth
	case 408, 504:
		return ErrorTimeout
	}
	if statusCode >= 500 {
		return ErrorRetryable
	}
	return ErrorFatal
}

// KindOf classifies any error returned by a Completer.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}
		return ErrorRetryable
	}
	return ErrorFatal
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
