package taskgraph

import (
	"errors"
	"fmt"

	"github.com/alphadose/taskgraph/lockfree"
)

var (
	// ErrInvalidOption is returned by New for rejected option values.
	ErrInvalidOption = errors.New(`taskgraph: invalid option`)

	// ErrTooManyNamedThreads is returned by New when more than
	// MaxNamedThreads named threads are configured.
	ErrTooManyNamedThreads = errors.New(`taskgraph: too many named threads`)

	// ErrUnknownThread indicates a target naming a thread that was not
	// configured. Dispatching to it panics, since the task could never run.
	ErrUnknownThread = errors.New(`taskgraph: unknown named thread`)

	// ErrNotExternalThread is returned by AttachToThread for threads the
	// scheduler drives itself.
	ErrNotExternalThread = errors.New(`taskgraph: named thread is not external`)

	// ErrAlreadyAttached is returned by AttachToThread when the thread is
	// already attached.
	ErrAlreadyAttached = errors.New(`taskgraph: named thread already attached`)
)

// FatalError is the panic value raised for unrecoverable scheduler states,
// such as link exhaustion. It is never recovered by the scheduler.
type FatalError = lockfree.FatalError

// PanicError wraps a value recovered from a panicking task body. The
// scheduler logs it and still completes the task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e PanicError) Error() string {
	return fmt.Sprintf(`taskgraph: task panicked: %v`, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
