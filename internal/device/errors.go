package device

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice marks failures raised while executing enqueued work or while
	// opening a device. Precondition failures never carry it.
	ErrDevice = errors.New("device error")
	// ErrStreamClosed is returned when enqueueing onto a closed stream.
	ErrStreamClosed = errors.New("stream closed")
	// ErrEventNotReady is returned by Event.Elapsed before both events fired.
	ErrEventNotReady = errors.New("event not recorded")
)

// Error is an execution failure of one enqueued op.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrDevice, e.Err}
}

func executionError(op string, rec any) error {
	if err, ok := rec.(error); ok {
		return &Error{Op: op, Err: fmt.Errorf("execution failed: %w", err)}
	}
	return &Error{Op: op, Err: fmt.Errorf("execution failed: %v", rec)}
}
