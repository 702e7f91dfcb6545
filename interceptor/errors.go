package interceptor

import (
	"errors"
	"fmt"
)

var (
	// ErrReentrantInvocation is returned when an Invocation is handed to Invoke while a
	// traversal for it is still running. Use Fork, or Clone the invocation.
	ErrReentrantInvocation = errors.New("interceptor: invocation already in flight")
	// ErrNotInFlight is returned by Fork on an invocation no chain is running.
	ErrNotInFlight   = errors.New("interceptor: fork outside of a running invocation")
	ErrNilInvocation = errors.New("interceptor: nil invocation")
	ErrNilFuture     = errors.New("interceptor: stage suspended on a nil future")
)

// StructuralError reports an invalid chain edit. The chain is left unchanged.
type StructuralError struct {
	Op       string
	Position int
	Size     int
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("interceptor: invalid %s position %d for chain of size %d", e.Op, e.Position, e.Size)
}
