package splitcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/splitcache/codec"
	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/log"
	"github.com/unkn0wn-root/splitcache/provider"
	"github.com/unkn0wn-root/splitcache/store"
)

// Entry is a decoded value with its stored metadata.
type Entry[V any] struct {
	Key     string
	Value   V
	Version uint64
	Created time.Time
	Updated time.Time
}

// Cache is the typed cache API. V is the caller's value type; Codec[V] serializes it.
type Cache[V any] interface {
	Close(context.Context) error

	// Single
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	GetEntry(ctx context.Context, key string) (e Entry[V], ok bool, err error)
	GetAsync(ctx context.Context, key string) *Pending[V]
	Put(ctx context.Context, key string, value V, ttl time.Duration) (prev V, had bool, err error)
	Remove(ctx context.Context, key string) (prev V, had bool, err error)
	// Replace stores value only if key is present. With ReplaceIf it must also hold old.
	Replace(ctx context.Context, key string, value V, ttl time.Duration) (bool, error)
	ReplaceIf(ctx context.Context, key string, old, value V, ttl time.Duration) (bool, error)
	// ApplyDelta appends delta to the stored encoding of key and returns the result.
	// It only makes sense for codecs whose encodings concatenate, like Bytes or String.
	ApplyDelta(ctx context.Context, key string, delta []byte) (V, error)

	// Bulk. GetAll omits absent keys.
	GetAll(ctx context.Context, keys []string) (map[string]V, error)
	PutAll(ctx context.Context, items map[string]V, ttl time.Duration) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Entries(ctx context.Context) ([]Entry[V], error)

	// WithFlags returns a view of the same cache adding f to every command.
	WithFlags(f command.Flags) Cache[V]
	Begin() *Tx[V]
	Chain() *interceptor.Chain
}

type Options[V any] struct {
	// Required
	Codec codec.Codec[V]

	// Chain runs every command. When nil, a single-node chain over Provider is built.
	Chain *interceptor.Chain
	// Provider backs the single-node chain. Close closes it when set.
	Provider  provider.Provider
	Namespace string        // single-node chain only; "" => "splitcache"
	TTL       time.Duration // applied to writes given ttl 0; 0 => store default

	Flags  command.Flags
	Logger log.Logger // if nil, NopLogger is used
}

func New[V any](opts Options[V]) (Cache[V], error) {
	c, err := newCache[V](opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewLocal builds a single-node cache over p with the default store settings.
func NewLocal[V any](p provider.Provider, cd codec.Codec[V]) (Cache[V], error) {
	return New[V](Options[V]{Provider: p, Codec: cd})
}

func localChain(p provider.Provider, ns string, l log.Logger) *interceptor.Chain {
	return interceptor.New(interceptor.Options{Logger: l}, store.New(p, store.Options{
		Namespace: coalesce(ns, "splitcache"),
		Logger:    l,
	}))
}
