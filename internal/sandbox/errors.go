package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout       = errors.New("execution timed out")
	ErrMisconfigured = errors.New("backend misconfigured")
	ErrUnavailable   = errors.New("no backend available")
	ErrInvalidInput  = errors.New("invalid dispatch input")
)

// DispatchError wraps errors with dispatch context.
type DispatchError struct {
	ExecID string
	Op     string // the operation that failed
	Err    error
}

func (e *DispatchError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("dispatch %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
