package splitcache

import (
	"errors"
	"fmt"
)

var (
	ErrNoCodec   = errors.New("splitcache: codec is required")
	ErrNoBackend = errors.New("splitcache: chain or provider is required")
	ErrTxDone    = errors.New("splitcache: transaction already finished")
	// ErrUnexpectedResult means the chain returned a value of the wrong type for the
	// command, usually a misconfigured custom stage.
	ErrUnexpectedResult = errors.New("splitcache: unexpected result type")
)

// TxError reports a failed commit. RollbackErr is set when the rollback that followed
// failed too, in which case some owners may still hold staged writes until they expire.
type TxError struct {
	ID          string
	Phase       string // prepare | commit
	Err         error
	RollbackErr error
}

func (e *TxError) Error() string {
	switch {
	case e.Err != nil && e.RollbackErr != nil:
		return fmt.Sprintf("tx %s: %s failed: %v; rollback failed: %v", e.ID, e.Phase, e.Err, e.RollbackErr)
	case e.Err != nil:
		return fmt.Sprintf("tx %s: %s failed: %v", e.ID, e.Phase, e.Err)
	case e.RollbackErr != nil:
		return fmt.Sprintf("tx %s: rollback failed: %v", e.ID, e.RollbackErr)
	default:
		return fmt.Sprintf("tx %s: unknown error", e.ID)
	}
}

func (e *TxError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}

func unexpected(op string, v any) error {
	return fmt.Errorf("%w: %s returned %T", ErrUnexpectedResult, op, v)
}
