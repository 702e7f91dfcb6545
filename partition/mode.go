// Package partition keeps the cache correct while the cluster is split.
//
// A Manager decides, from this node's view of the cluster, which operations are still
// safe. The Interceptor stage asks it before writes and bulk operations, and after reads,
// and turns results it cannot vouch for into AvailabilityErrors.
package partition

// AvailabilityMode is the cluster-wide health as seen by this node.
type AvailabilityMode uint32

const (
	// Available: every expected member is reachable; nothing is restricted.
	Available AvailabilityMode = iota
	// DegradedMode: a partition was detected; operations on keys whose owners are not
	// all reachable are refused.
	DegradedMode
)

func (m AvailabilityMode) String() string {
	switch m {
	case Available:
		return "AVAILABLE"
	case DegradedMode:
		return "DEGRADED_MODE"
	}
	return "UNKNOWN"
}

// Manager is the availability oracle the Interceptor consults. Every method is a
// non-blocking point-in-time read: two calls during one operation may disagree if the
// mode changes in between.
type Manager interface {
	AvailabilityMode() AvailabilityMode
	// CheckWrite returns nil when key may be written, else an *AvailabilityError.
	CheckWrite(key string) error
	CheckRead(key string) error
	CheckClear() error
	CheckBulkRead() error
	// IsPartiallyCommitted reports whether txID is already known to have committed on
	// only part of its owners.
	IsPartiallyCommitted(txID string) bool
}

// Membership lists the members this node can currently reach.
type Membership interface {
	LiveMembers() []string
}

// Ownership maps a key to its owners, primary first.
type Ownership interface {
	Locate(key string) []string
}
