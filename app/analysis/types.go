package analysis

import (
	"errors"
	"time"

	"github.com/feedsieve/feedsieve/app/database"
)

// ErrNoContent marks an entry that cannot be analyzed because its content
// has not been fetched yet. Terminal: retrying will not help.
var ErrNoContent = errors.New("entry has no content")

// ErrEntryNotFound marks a job referencing an entry that no longer exists.
var ErrEntryNotFound = errors.New("entry not found")

// terminalError wraps validation failures that must fail the job immediately
// instead of consuming retry attempts.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as a non-retryable job failure.
func Terminal(err error) error {
	return &terminalError{err: err}
}

// IsTerminal reports whether err (or anything it wraps) is non-retryable.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// EnqueueOptions tune a single enqueue call.
type EnqueueOptions struct {
	Priority       int
	ForceReanalyze bool
	Delay          time.Duration // overrides the configured preliminary delay when > 0
}

// Stats is the queue introspection snapshot.
type Stats struct {
	Counts      database.JobCounts
	SuccessRate float64
	Paused      bool
}
