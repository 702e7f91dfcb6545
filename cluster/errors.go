package cluster

import (
	"errors"
	"fmt"
)

// ErrNoLiveOwner is the cause used when none of a key's owners can be reached.
var ErrNoLiveOwner = errors.New("cluster: no live owner")

// TransportError is a failed round trip to another node.
type TransportError struct {
	Node string // empty when no node could be tried
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("cluster: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cluster: %s on %s: %v", e.Op, e.Node, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is, or wraps, a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
