package schedule

import (
	"fmt"

	"github.com/inkpulse/inkpulse/errors"
)

// InvalidScheduleError reports a bad schedule definition to the caller
type InvalidScheduleError struct {
	Field  string
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule: %s %s", e.Field, e.Reason)
}

// Unwrap lets errors.IsInvalidRequestError match schedule validation failures
func (e *InvalidScheduleError) Unwrap() error {
	return errors.ErrInvalidRequest
}

// IsInvalidSchedule reports whether err carries an *InvalidScheduleError
func IsInvalidSchedule(err error) bool {
	var target *InvalidScheduleError
	return errors.As(err, &target)
}

// ErrClaimConflict means another dispatcher claimed the job first or it is no longer due.
// Dispatchers skip the job silently.
var ErrClaimConflict = errors.New("claim conflict: job already claimed or no longer due")

// PersistenceError wraps a schedule store failure that may succeed on retry
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("schedule store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err is a retryable store failure
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
