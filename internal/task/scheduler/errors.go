package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrNilAction        = errors.New("scheduler: action is nil")
	ErrNilUnit          = errors.New("scheduler: unit is nil")
	ErrInvalidInterval  = errors.New("scheduler: interval must be >= 0")
	ErrAlreadySubmitted = errors.New("scheduler: unit already submitted")
	ErrAlreadyRunning   = errors.New("scheduler: already running")
	ErrStopFromWorker   = errors.New("scheduler: Stop called from the worker goroutine")
)

// PanicError is the error recorded when an action panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// IsPanic reports whether err came from a panicking action.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
