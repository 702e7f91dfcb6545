// Package txstore records transactions whose commit reached only part of their owners.
//
// The partition stage consults it so that a commit already known to be partial is not
// re-checked, and so that operators can see which nodes missed which transactions.
package txstore

import (
	"context"
	"time"
)

// Store abstracts where the partial-commit registry lives.
// Use Local for a single process, or Redis to share it across nodes.
type Store interface {
	// Mark records txID as partially committed; failed lists the nodes that missed it.
	// Marking an already marked transaction merges the failed nodes.
	Mark(ctx context.Context, txID string, failed []string) error
	// IsMarked reports whether txID is recorded.
	IsMarked(ctx context.Context, txID string) (bool, error)
	// Failed returns the nodes recorded for txID; nil when unknown.
	Failed(ctx context.Context, txID string) ([]string, error)
	// Forget drops txID, e.g. once the missing nodes caught up.
	Forget(ctx context.Context, txID string) error
	// Cleanup prunes records older than retention (no-op for Redis).
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
