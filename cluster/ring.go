package cluster

import (
	"slices"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const defaultVirtualNodes = 64

// Ring is a consistent-hash ownership resolver over a fixed member set. Ownership does
// not follow the live view: when members become unreachable their keys keep their
// owners until the cluster is rebuilt with a new Ring.
type Ring struct {
	owners  int
	members []string
	points  []uint64
	byPoint map[uint64]string
}

// NewRing places every member on the ring vnodes times. owners is the number of
// replicas per key, capped at the member count.
func NewRing(members []string, owners, vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = defaultVirtualNodes
	}
	ms := normalize(members)
	if owners <= 0 {
		owners = 1
	}
	if owners > len(ms) {
		owners = len(ms)
	}
	r := &Ring{
		owners:  owners,
		members: ms,
		byPoint: make(map[uint64]string, len(ms)*vnodes),
	}
	for _, m := range ms {
		for i := 0; i < vnodes; i++ {
			h := xxhash.Sum64String(m + "#" + strconv.Itoa(i))
			if _, taken := r.byPoint[h]; taken {
				continue // collision: first member keeps the point
			}
			r.byPoint[h] = m
			r.points = append(r.points, h)
		}
	}
	slices.Sort(r.points)
	return r
}

// Members returns every member the ring was built from, sorted.
func (r *Ring) Members() []string { return slices.Clone(r.members) }

// Owners is the replication factor.
func (r *Ring) Owners() int { return r.owners }

// Locate returns the owners of key, primary first.
func (r *Ring) Locate(key string) []string {
	if len(r.points) == 0 {
		return nil
	}
	h := xxhash.Sum64String(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })

	out := make([]string, 0, r.owners)
	for n := 0; n < len(r.points) && len(out) < r.owners; n++ {
		m := r.byPoint[r.points[(idx+n)%len(r.points)]]
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

// IsOwner reports whether node owns key.
func (r *Ring) IsOwner(node, key string) bool {
	return slices.Contains(r.Locate(key), node)
}
