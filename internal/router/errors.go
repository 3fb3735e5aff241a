package router

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the router.
var (
	// ErrInvalidPriority is returned when registering with a negative priority.
	ErrInvalidPriority = errors.New("priority must be >= 0")

	// ErrEventNotFound is returned when firing a name that was never registered.
	ErrEventNotFound = errors.New("event not found")

	// ErrNotAnExtension is returned when attaching a nil extension.
	ErrNotAnExtension = errors.New("not an extension")

	// ErrNilCallback is returned when registering a nil callback.
	ErrNilCallback = errors.New("callback cannot be nil")

	// ErrClosed is returned by operations on a closed router.
	ErrClosed = errors.New("router closed")

	// ErrCallbackPanic matches callback failures caused by a panic.
	ErrCallbackPanic = errors.New("callback panicked")
)

// CallbackError wraps the failure of a single callback invocation.
type CallbackError struct {
	Handle Handle
	Err    error

	// Panic holds the recovered value and Stack the goroutine stack when the
	// callback panicked.
	Panic any
	Stack []byte
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %s (event %q, priority %d): %v",
		e.Handle.ID, e.Handle.Event, e.Handle.Priority, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallbackError) Unwrap() error {
	return e.Err
}

// DispatchError aggregates the callback failures of one Fire.
type DispatchError struct {
	Event    string
	Failures []*CallbackError
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("dispatch %q: %d callback(s) failed: %s",
		e.Event, len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
