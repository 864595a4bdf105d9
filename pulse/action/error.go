package action

import (
	"fmt"
	"time"

	"github.com/inkpulse/inkpulse/errors"
)

// ActionExecutionError records why one action of a firing failed.
// It is stored in the run record and never returned to Control API callers.
type ActionExecutionError struct {
	Kind    Kind
	Step    int
	Timeout time.Duration // non-zero when the action exceeded its deadline
	Err     error
}

func (e *ActionExecutionError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s action timeout after %s", e.Kind, e.Timeout)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s action reported failure", e.Kind)
	}
	return fmt.Sprintf("%s action failed: %v", e.Kind, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

// TimedOut reports whether the action exceeded its deadline
func (e *ActionExecutionError) TimedOut() bool {
	return e.Timeout > 0
}

// IsTimeout reports whether err is an action timeout
func IsTimeout(err error) bool {
	var execErr *ActionExecutionError
	return errors.As(err, &execErr) && execErr.TimedOut()
}

// ErrNoExecutor is wrapped when a pipeline references a kind with no registered executor
var ErrNoExecutor = errors.New("no executor registered")
