// Package provider defines the byte store backing a node's data container.
//
// The data container owns every key it writes ("<ns>:e:" entries and "<ns>:tx:" staged
// transactions) and frames values itself, so a provider only has to store bytes
// faithfully: Get must return exactly what Set was given.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. ttl <= 0 means no expiry where the store supports it; cost is a
	// hint for stores that bound memory by cost. ok=false reports a write the store
	// dropped under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes key; deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}
