// Package command describes the operations that travel through the interceptor chain.
//
// A Command is immutable once built: stages that need a different operation build a
// new Command and fork it instead of editing the one they received.
package command

import (
	"sort"
	"time"
)

// Kind selects the operation a Command performs.
type Kind uint8

const (
	Get Kind = iota + 1
	GetEntry
	GetAll
	Put
	Remove
	Replace
	ApplyDelta
	PutAll
	Clear
	KeySet
	EntrySet
	Prepare
	Commit
	Rollback
)

var kindNames = [...]string{
	Get:        "get",
	GetEntry:   "get_entry",
	GetAll:     "get_all",
	Put:        "put",
	Remove:     "remove",
	Replace:    "replace",
	ApplyDelta: "apply_delta",
	PutAll:     "put_all",
	Clear:      "clear",
	KeySet:     "key_set",
	EntrySet:   "entry_set",
	Prepare:    "prepare",
	Commit:     "commit",
	Rollback:   "rollback",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// IsWrite reports whether k modifies data.
func (k Kind) IsWrite() bool {
	switch k {
	case Put, Remove, Replace, ApplyDelta, PutAll, Clear:
		return true
	}
	return false
}

// IsTx reports whether k is a transaction boundary command.
func (k Kind) IsTx() bool { return k == Prepare || k == Commit || k == Rollback }

// Flags alter how a command is executed.
type Flags uint32

const (
	// FlagLocalOnly executes the command on this node only, bypassing every
	// cluster-aware stage (routing, replication and partition checks).
	FlagLocalOnly Flags = 1 << iota
	// FlagIgnoreReturnValues lets writes skip fetching the previous value.
	FlagIgnoreReturnValues
)

func (f Flags) Has(x Flags) bool { return f&x == x }

// Transaction links Prepare/Commit/Rollback commands to the writes they cover.
type Transaction struct {
	ID            string     `msgpack:"id"`
	Modifications []*Command `msgpack:"mods,omitempty"`
}

func (t *Transaction) HasModifications() bool { return t != nil && len(t.Modifications) > 0 }

// AffectedKeys returns every key touched by the modification set, first-seen order,
// without duplicates.
func (t *Transaction) AffectedKeys() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, m := range t.Modifications {
		for _, k := range m.AffectedKeys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// Command is one cache operation and its parameters.
type Command struct {
	Kind  Kind              `msgpack:"kind"`
	Key   string            `msgpack:"key,omitempty"`
	Keys  []string          `msgpack:"keys,omitempty"`  // GetAll
	Value []byte            `msgpack:"value,omitempty"` // Put, Replace
	Prev  []byte            `msgpack:"prev,omitempty"`  // Replace: expected current value, nil => any
	Delta []byte            `msgpack:"delta,omitempty"` // ApplyDelta: appended to the current value
	Items map[string][]byte `msgpack:"items,omitempty"` // PutAll
	TTL   time.Duration     `msgpack:"ttl,omitempty"`
	Flags Flags             `msgpack:"flags,omitempty"`
	Tx    *Transaction      `msgpack:"tx,omitempty"`
}

func NewGet(key string) *Command      { return &Command{Kind: Get, Key: key} }
func NewGetEntry(key string) *Command { return &Command{Kind: GetEntry, Key: key} }
func NewGetAll(keys ...string) *Command {
	return &Command{Kind: GetAll, Keys: dedup(keys)}
}

func NewPut(key string, value []byte, ttl time.Duration) *Command {
	return &Command{Kind: Put, Key: key, Value: value, TTL: ttl}
}

func NewRemove(key string) *Command { return &Command{Kind: Remove, Key: key} }

// NewReplace replaces the value of an existing key. When prev is non-nil the
// replacement only happens if the current value equals prev.
func NewReplace(key string, value, prev []byte, ttl time.Duration) *Command {
	return &Command{Kind: Replace, Key: key, Value: value, Prev: prev, TTL: ttl}
}

func NewApplyDelta(key string, delta []byte) *Command {
	return &Command{Kind: ApplyDelta, Key: key, Delta: delta}
}

func NewPutAll(items map[string][]byte, ttl time.Duration) *Command {
	return &Command{Kind: PutAll, Items: items, TTL: ttl}
}

func NewClear() *Command    { return &Command{Kind: Clear} }
func NewKeySet() *Command   { return &Command{Kind: KeySet} }
func NewEntrySet() *Command { return &Command{Kind: EntrySet} }

func NewPrepare(tx *Transaction) *Command  { return &Command{Kind: Prepare, Tx: tx} }
func NewCommit(tx *Transaction) *Command   { return &Command{Kind: Commit, Tx: tx} }
func NewRollback(tx *Transaction) *Command { return &Command{Kind: Rollback, Tx: tx} }

// WithFlags returns a copy of c carrying f in addition to its own flags.
func (c *Command) WithFlags(f Flags) *Command {
	cp := *c
	cp.Flags |= f
	return &cp
}

// HasFlag reports whether every bit of f is set on c.
func (c *Command) HasFlag(f Flags) bool { return c.Flags.Has(f) }

// AffectedKeys returns the keys a write touches. Reads, Clear and bulk reads return nil:
// they either touch a single key read-only or the whole key space.
func (c *Command) AffectedKeys() []string {
	switch c.Kind {
	case Put, Remove, Replace, ApplyDelta:
		return []string{c.Key}
	case PutAll:
		keys := make([]string, 0, len(c.Items))
		for k := range c.Items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	case Prepare, Commit:
		return c.Tx.AffectedKeys()
	}
	return nil
}

// Entry is a stored value with its metadata, returned by GetEntry and EntrySet.
type Entry struct {
	Key     string    `msgpack:"key"`
	Value   []byte    `msgpack:"value"`
	Version uint64    `msgpack:"version"`
	Created time.Time `msgpack:"created"`
	Updated time.Time `msgpack:"updated"`
}

// Absent reports whether a single-key read result means "not found".
func Absent(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []byte:
		return x == nil
	case *Entry:
		return x == nil
	}
	return false
}

func dedup(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
