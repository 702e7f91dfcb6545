package partition

import (
	"errors"
	"fmt"
	"slices"
)

// ErrDegradedMode matches every AvailabilityError with errors.Is.
var ErrDegradedMode = errors.New("partition: degraded mode")

// AvailabilityError reports an operation refused because the cluster is partitioned.
// Keys names the offending keys; it is empty for whole-cache operations (clear, bulk
// reads), which Op names instead.
type AvailabilityError struct {
	Op   string
	Keys []string
	// Cause is the lower-level failure this error replaced, if any. It is kept for
	// logging only and is not exposed through Unwrap.
	Cause error
}

func (e *AvailabilityError) Error() string {
	switch len(e.Keys) {
	case 0:
		return fmt.Sprintf("partition: %s not allowed in degraded mode", e.Op)
	case 1:
		return fmt.Sprintf("partition: key %q is not available in degraded mode", e.Keys[0])
	}
	return fmt.Sprintf("partition: keys %q are not available in degraded mode", e.Keys)
}

func (e *AvailabilityError) Unwrap() error { return ErrDegradedMode }

// KeyUnavailable builds the error for keys.
func KeyUnavailable(op string, keys ...string) *AvailabilityError {
	return &AvailabilityError{Op: op, Keys: slices.Clone(keys)}
}

// UnavailableKeys returns the keys carried by err, if it is an AvailabilityError.
func UnavailableKeys(err error) ([]string, bool) {
	var ae *AvailabilityError
	if !errors.As(err, &ae) {
		return nil, false
	}
	return ae.Keys, true
}
