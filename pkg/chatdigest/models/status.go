package models

import "fmt"

// ProcessingStatus is the analysis state of a Document.
//
//	not_started -> pending -> analyzed
//	                       -> error
//
// analyzed and error are terminal. The only way out of error is an explicit
// re-queue back to not_started, which a retry policy may perform.
type ProcessingStatus string

const (
	StatusNotStarted ProcessingStatus = "not_started"
	StatusPending    ProcessingStatus = "pending"
	StatusAnalyzed   ProcessingStatus = "analyzed"
	StatusError      ProcessingStatus = "error"
)

// AllStatuses lists every status in state-machine order.
var AllStatuses = []ProcessingStatus{StatusNotStarted, StatusPending, StatusAnalyzed, StatusError}

// Valid reports whether s is a known status.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusPending, StatusAnalyzed, StatusError:
		return true
	}
	return false
}

// Terminal reports whether the pipeline will never pick the document up again.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusAnalyzed || s == StatusError
}

// CanTransition reports whether the pipeline may move a document from s to next.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	switch s {
	case StatusNotStarted:
		return next == StatusPending
	case StatusPending:
		return next == StatusAnalyzed || next == StatusError
	}
	return false
}

// CanRequeue reports whether a retry policy may reset s to not_started.
func (s ProcessingStatus) CanRequeue() bool {
	return s == StatusError
}

// ParseProcessingStatus converts a stored value into a status.
func ParseProcessingStatus(v string) (ProcessingStatus, error) {
	s := ProcessingStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown processing status %q", v)
	}
	return s, nil
}
