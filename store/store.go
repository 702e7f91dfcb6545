// Package store is the data container: the last stage of the chain, executing commands
// against a provider.Provider on this node.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/internal/wire"
	"github.com/unkn0wn-root/splitcache/log"
	"github.com/unkn0wn-root/splitcache/provider"
)

var (
	ErrNoTransaction = errors.New("store: transaction command without transaction")
	// ErrUnsupportedInTx is returned by Prepare/Commit for modifications other than
	// Put, Remove and PutAll.
	ErrUnsupportedInTx = errors.New("store: operation not supported inside a transaction")
	// ErrStagingRejected: the provider refused to keep a prepared transaction.
	ErrStagingRejected = errors.New("store: provider rejected transaction staging")
	ErrUnknownCommand  = errors.New("store: unknown command")
)

const lockStripes = 64

// CostFunc weighs a stored value for providers that bound memory by cost.
type CostFunc func(key string, raw []byte) int64

type Options struct {
	Namespace  string        // key prefix; default "splitcache"
	DefaultTTL time.Duration // used when a command carries none; 0 => no expiry
	StagingTTL time.Duration // how long a prepared transaction is kept; default 10m
	Cost       CostFunc      // default 1
	Logger     log.Logger
	Now        func() time.Time
}

// Interceptor is the terminal stage. It never forwards.
type Interceptor struct {
	p          provider.Provider
	ns         string
	defaultTTL time.Duration
	stagingTTL time.Duration
	cost       CostFunc
	log        log.Logger
	now        func() time.Time

	index *keyIndex
	locks [lockStripes]sync.Mutex
}

func New(p provider.Provider, opts Options) *Interceptor {
	s := &Interceptor{
		p:          p,
		ns:         coalesce(opts.Namespace, "splitcache"),
		defaultTTL: opts.DefaultTTL,
		stagingTTL: coalesce(opts.StagingTTL, 10*time.Minute),
		cost:       opts.Cost,
		log:        log.OrNop(opts.Logger),
		now:        opts.Now,
		index:      newKeyIndex(),
	}
	if s.cost == nil {
		s.cost = func(string, []byte) int64 { return 1 }
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Interceptor) Visit(inv *interceptor.Invocation, cmd *command.Command) interceptor.Step {
	tx := cmd.Tx
	if tx == nil {
		tx = inv.Transaction(cmd)
	}
	return inv.Return(s.Execute(inv.Context(), cmd, tx))
}

// Len is the number of keys this node believes it holds.
func (s *Interceptor) Len() int { return s.index.len() }

// Execute runs cmd against the provider. tx is used by Prepare/Commit/Rollback.
func (s *Interceptor) Execute(ctx context.Context, cmd *command.Command, tx *command.Transaction) (any, error) {
	switch cmd.Kind {
	case command.Get:
		e, ok, err := s.load(ctx, cmd.Key)
		if err != nil || !ok {
			return []byte(nil), err
		}
		return bytes.Clone(e.Payload), nil

	case command.GetEntry:
		e, ok, err := s.load(ctx, cmd.Key)
		if err != nil || !ok {
			return (*command.Entry)(nil), err
		}
		return toEntry(cmd.Key, e), nil

	case command.GetAll:
		out := make(map[string][]byte, len(cmd.Keys))
		for _, k := range cmd.Keys {
			e, ok, err := s.load(ctx, k)
			if err != nil {
				return nil, err
			}
			if ok {
				out[k] = bytes.Clone(e.Payload)
			}
		}
		return out, nil

	case command.Put:
		prev, err := s.put(ctx, cmd.Key, cmd.Value, s.ttl(cmd.TTL))
		if err != nil || cmd.HasFlag(command.FlagIgnoreReturnValues) {
			return []byte(nil), err
		}
		return prev, nil

	case command.Remove:
		prev, err := s.remove(ctx, cmd.Key)
		if err != nil || cmd.HasFlag(command.FlagIgnoreReturnValues) {
			return []byte(nil), err
		}
		return prev, nil

	case command.Replace:
		return s.replace(ctx, cmd)

	case command.ApplyDelta:
		return s.applyDelta(ctx, cmd.Key, cmd.Delta, s.ttl(cmd.TTL))

	case command.PutAll:
		keys := cmd.AffectedKeys()
		for _, k := range keys {
			if _, err := s.put(ctx, k, cmd.Items[k], s.ttl(cmd.TTL)); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case command.Clear:
		return nil, s.clear(ctx)

	case command.KeySet:
		var out []string
		for _, k := range s.index.snapshot() {
			_, ok, err := s.load(ctx, k)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, k)
			}
		}
		return out, nil

	case command.EntrySet:
		var out []command.Entry
		for _, k := range s.index.snapshot() {
			e, ok, err := s.load(ctx, k)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, *toEntry(k, e))
			}
		}
		return out, nil

	case command.Prepare:
		return nil, s.prepare(ctx, tx)
	case command.Commit:
		return nil, s.commit(ctx, tx)
	case command.Rollback:
		return nil, s.rollback(ctx, tx)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
}

func (s *Interceptor) entryKey(k string) string  { return s.ns + ":e:" + k }
func (s *Interceptor) stageKey(id string) string { return s.ns + ":tx:" + id }

func (s *Interceptor) ttl(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return s.defaultTTL
}

func (s *Interceptor) lock(k string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(k)%lockStripes]
}

// load reads and decodes k. Corrupt entries are deleted and read as misses.
func (s *Interceptor) load(ctx context.Context, k string) (wire.Entry, bool, error) {
	sk := s.entryKey(k)
	raw, ok, err := s.p.Get(ctx, sk)
	if err != nil {
		return wire.Entry{}, false, fmt.Errorf("store: get %q: %w", k, err)
	}
	if !ok {
		return wire.Entry{}, false, nil
	}
	e, err := wire.DecodeEntry(raw)
	if err != nil {
		s.log.Warn("dropping corrupt entry", log.Fields{"key": k})
		_ = s.p.Del(ctx, sk) // self-heal
		s.index.remove(k)
		return wire.Entry{}, false, nil
	}
	return e, true, nil
}

func (s *Interceptor) write(ctx context.Context, k string, prev wire.Entry, found bool, value []byte, ttl time.Duration) error {
	now := s.now()
	e := wire.Entry{Version: 1, Created: now, Updated: now, Payload: value}
	if found {
		e.Version = prev.Version + 1
		e.Created = prev.Created
	}
	raw := wire.EncodeEntry(e)
	sk := s.entryKey(k)
	ok, err := s.p.Set(ctx, sk, raw, s.cost(sk, raw), ttl)
	if err != nil {
		return fmt.Errorf("store: set %q: %w", k, err)
	}
	if !ok {
		s.log.Debug("write rejected by provider (pressure)", log.Fields{"key": k})
		return nil
	}
	s.index.add(k)
	return nil
}

func (s *Interceptor) put(ctx context.Context, k string, value []byte, ttl time.Duration) ([]byte, error) {
	mu := s.lock(k)
	mu.Lock()
	defer mu.Unlock()

	prev, found, err := s.load(ctx, k)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, k, prev, found, value, ttl); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return bytes.Clone(prev.Payload), nil
}

func (s *Interceptor) remove(ctx context.Context, k string) ([]byte, error) {
	mu := s.lock(k)
	mu.Lock()
	defer mu.Unlock()

	prev, found, err := s.load(ctx, k)
	if err != nil {
		return nil, err
	}
	if err := s.p.Del(ctx, s.entryKey(k)); err != nil {
		return nil, fmt.Errorf("store: del %q: %w", k, err)
	}
	s.index.remove(k)
	if !found {
		return nil, nil
	}
	return bytes.Clone(prev.Payload), nil
}

// replace only touches existing keys; with cmd.Prev set the current value must match.
func (s *Interceptor) replace(ctx context.Context, cmd *command.Command) (bool, error) {
	mu := s.lock(cmd.Key)
	mu.Lock()
	defer mu.Unlock()

	cur, found, err := s.load(ctx, cmd.Key)
	if err != nil || !found {
		return false, err
	}
	if cmd.Prev != nil && !bytes.Equal(cur.Payload, cmd.Prev) {
		return false, nil
	}
	if err := s.write(ctx, cmd.Key, cur, true, cmd.Value, s.ttl(cmd.TTL)); err != nil {
		return false, err
	}
	return true, nil
}

// applyDelta appends delta to the current value (empty when absent).
func (s *Interceptor) applyDelta(ctx context.Context, k string, delta []byte, ttl time.Duration) ([]byte, error) {
	mu := s.lock(k)
	mu.Lock()
	defer mu.Unlock()

	cur, found, err := s.load(ctx, k)
	if err != nil {
		return nil, err
	}
	next := make([]byte, 0, len(cur.Payload)+len(delta))
	next = append(append(next, cur.Payload...), delta...)
	if err := s.write(ctx, k, cur, found, next, ttl); err != nil {
		return nil, err
	}
	return bytes.Clone(next), nil
}

func (s *Interceptor) clear(ctx context.Context) error {
	var errs []error
	for _, k := range s.index.snapshot() {
		mu := s.lock(k)
		mu.Lock()
		if err := s.p.Del(ctx, s.entryKey(k)); err != nil {
			errs = append(errs, fmt.Errorf("store: del %q: %w", k, err))
		} else {
			s.index.remove(k)
		}
		mu.Unlock()
	}
	return errors.Join(errs...)
}

func toEntry(k string, e wire.Entry) *command.Entry {
	return &command.Entry{
		Key:     k,
		Value:   bytes.Clone(e.Payload),
		Version: e.Version,
		Created: e.Created,
		Updated: e.Updated,
	}
}

// batchOf flattens the modification set into staged writes.
func batchOf(tx *command.Transaction) ([]wire.BatchItem, error) {
	var items []wire.BatchItem
	for _, m := range tx.Modifications {
		switch m.Kind {
		case command.Put:
			items = append(items, wire.BatchItem{Op: wire.OpPut, Key: m.Key, TTL: m.TTL, Payload: m.Value})
		case command.Remove:
			items = append(items, wire.BatchItem{Op: wire.OpRemove, Key: m.Key})
		case command.PutAll:
			keys := make([]string, 0, len(m.Items))
			for k := range m.Items {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				items = append(items, wire.BatchItem{Op: wire.OpPut, Key: k, TTL: m.TTL, Payload: m.Items[k]})
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedInTx, m.Kind)
		}
	}
	return items, nil
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
