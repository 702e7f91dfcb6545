package splitcache

import (
	"bytes"
	"context"
	"time"

	"github.com/unkn0wn-root/splitcache/codec"
	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/log"
	"github.com/unkn0wn-root/splitcache/provider"
)

type cache[V any] struct {
	chain    *interceptor.Chain
	codec    codec.Codec[V]
	provider provider.Provider // owned; nil when the chain was given
	log      log.Logger
	ttl      time.Duration
	flags    command.Flags
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Codec == nil {
		return nil, ErrNoCodec
	}
	if opts.Chain == nil && opts.Provider == nil {
		return nil, ErrNoBackend
	}

	c := &cache[V]{
		chain:    opts.Chain,
		codec:    opts.Codec,
		provider: opts.Provider,
		log:      log.OrNop(opts.Logger),
		ttl:      opts.TTL,
		flags:    opts.Flags,
	}
	if c.chain == nil {
		c.chain = localChain(opts.Provider, opts.Namespace, c.log)
	}
	return c, nil
}

func (c *cache[V]) Chain() *interceptor.Chain { return c.chain }

func (c *cache[V]) Close(ctx context.Context) error {
	if c.provider != nil {
		return c.provider.Close(ctx)
	}
	return nil
}

func (c *cache[V]) WithFlags(f command.Flags) Cache[V] {
	cp := *c
	cp.flags |= f
	return &cp
}

func (c *cache[V]) invoke(ctx context.Context, cmd *command.Command, opts ...interceptor.InvocationOption) (any, error) {
	if c.flags != 0 {
		cmd = cmd.WithFlags(c.flags)
	}
	return c.chain.Invoke(interceptor.NewInvocation(ctx, opts...), cmd)
}

func (c *cache[V]) expiry(ttl time.Duration) time.Duration { return coalesce(ttl, c.ttl) }

// decode turns a stored payload into V. Undecodable payloads read as misses; with
// heal set the entry is also dropped, best effort, so the next write starts clean.
func (c *cache[V]) decode(ctx context.Context, key string, raw []byte, heal bool) (V, bool) {
	v, err := c.codec.Decode(raw)
	if err != nil {
		var zero V
		c.log.Warn("undecodable value", log.Fields{"key": key, "err": err, "heal": heal})
		if heal {
			_, _ = c.invoke(ctx, command.NewRemove(key).WithFlags(command.FlagIgnoreReturnValues))
		}
		return zero, false
	}
	return v, true
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	res, err := c.invoke(ctx, command.NewGet(key))
	return c.single(ctx, "get", key, res, err, true)
}

// single decodes the []byte result of a single-key command.
func (c *cache[V]) single(ctx context.Context, op, key string, res any, err error, heal bool) (V, bool, error) {
	var zero V
	if err != nil {
		return zero, false, err
	}
	if command.Absent(res) {
		return zero, false, nil
	}
	raw, ok := res.([]byte)
	if !ok {
		return zero, false, unexpected(op, res)
	}
	v, ok := c.decode(ctx, key, raw, heal)
	return v, ok, nil
}

func (c *cache[V]) GetEntry(ctx context.Context, key string) (Entry[V], bool, error) {
	res, err := c.invoke(ctx, command.NewGetEntry(key))
	if err != nil || command.Absent(res) {
		return Entry[V]{}, false, err
	}
	e, ok := res.(*command.Entry)
	if !ok {
		return Entry[V]{}, false, unexpected("get_entry", res)
	}
	return c.entry(ctx, *e)
}

func (c *cache[V]) entry(ctx context.Context, e command.Entry) (Entry[V], bool, error) {
	v, ok := c.decode(ctx, e.Key, e.Value, true)
	if !ok {
		return Entry[V]{}, false, nil
	}
	return Entry[V]{Key: e.Key, Value: v, Version: e.Version, Created: e.Created, Updated: e.Updated}, true, nil
}

func (c *cache[V]) GetAsync(ctx context.Context, key string) *Pending[V] {
	cmd := command.NewGet(key)
	if c.flags != 0 {
		cmd = cmd.WithFlags(c.flags)
	}
	f := c.chain.InvokeAsync(interceptor.NewInvocation(ctx), cmd)
	return &Pending[V]{f: f, resolve: func(res any, err error) (V, bool, error) {
		return c.single(ctx, "get", key, res, err, true)
	}}
}

func (c *cache[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) (V, bool, error) {
	var zero V
	raw, err := c.codec.Encode(value)
	if err != nil {
		return zero, false, err
	}
	res, err := c.invoke(ctx, command.NewPut(key, raw, c.expiry(ttl)))
	return c.single(ctx, "put", key, res, err, false)
}

func (c *cache[V]) Remove(ctx context.Context, key string) (V, bool, error) {
	res, err := c.invoke(ctx, command.NewRemove(key))
	return c.single(ctx, "remove", key, res, err, false)
}

func (c *cache[V]) Replace(ctx context.Context, key string, value V, ttl time.Duration) (bool, error) {
	raw, err := c.codec.Encode(value)
	if err != nil {
		return false, err
	}
	return c.replace(ctx, command.NewReplace(key, raw, nil, c.expiry(ttl)))
}

func (c *cache[V]) ReplaceIf(ctx context.Context, key string, old, value V, ttl time.Duration) (bool, error) {
	prev, err := c.codec.Encode(old)
	if err != nil {
		return false, err
	}
	raw, err := c.codec.Encode(value)
	if err != nil {
		return false, err
	}
	if prev == nil {
		prev = []byte{} // nil would mean "any value"
	}
	return c.replace(ctx, command.NewReplace(key, raw, prev, c.expiry(ttl)))
}

func (c *cache[V]) replace(ctx context.Context, cmd *command.Command) (bool, error) {
	res, err := c.invoke(ctx, cmd)
	if err != nil {
		return false, err
	}
	ok, isBool := res.(bool)
	if !isBool {
		return false, unexpected("replace", res)
	}
	return ok, nil
}

func (c *cache[V]) ApplyDelta(ctx context.Context, key string, delta []byte) (V, error) {
	var zero V
	res, err := c.invoke(ctx, command.NewApplyDelta(key, bytes.Clone(delta)))
	if err != nil {
		return zero, err
	}
	raw, ok := res.([]byte)
	if !ok {
		return zero, unexpected("apply_delta", res)
	}
	return c.codec.Decode(raw)
}

func (c *cache[V]) GetAll(ctx context.Context, keys []string) (map[string]V, error) {
	out := make(map[string]V, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	res, err := c.invoke(ctx, command.NewGetAll(keys...))
	if err != nil {
		return nil, err
	}
	raw, ok := res.(map[string][]byte)
	if !ok {
		return nil, unexpected("get_all", res)
	}
	for k, b := range raw {
		if v, ok := c.decode(ctx, k, b, true); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *cache[V]) PutAll(ctx context.Context, items map[string]V, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	raw := make(map[string][]byte, len(items))
	for k, v := range items {
		b, err := c.codec.Encode(v)
		if err != nil {
			return err
		}
		raw[k] = b
	}
	_, err := c.invoke(ctx, command.NewPutAll(raw, c.expiry(ttl)))
	return err
}

func (c *cache[V]) Clear(ctx context.Context) error {
	_, err := c.invoke(ctx, command.NewClear())
	return err
}

func (c *cache[V]) Keys(ctx context.Context) ([]string, error) {
	res, err := c.invoke(ctx, command.NewKeySet())
	if err != nil || res == nil {
		return nil, err
	}
	keys, ok := res.([]string)
	if !ok {
		return nil, unexpected("key_set", res)
	}
	return keys, nil
}

func (c *cache[V]) Entries(ctx context.Context) ([]Entry[V], error) {
	res, err := c.invoke(ctx, command.NewEntrySet())
	if err != nil || res == nil {
		return nil, err
	}
	raw, ok := res.([]command.Entry)
	if !ok {
		return nil, unexpected("entry_set", res)
	}
	out := make([]Entry[V], 0, len(raw))
	for _, e := range raw {
		if te, ok, _ := c.entry(ctx, e); ok {
			out = append(out, te)
		}
	}
	return out, nil
}

// Pending is the eventual result of GetAsync.
type Pending[V any] struct {
	f       *interceptor.Future
	resolve func(any, error) (V, bool, error)
}

// Done is closed once the result is available.
func (p *Pending[V]) Done() <-chan struct{} { return p.f.Done() }

func (p *Pending[V]) Wait() (V, bool, error) {
	return p.resolve(p.f.Wait())
}

// Await waits for the result or ctx, whichever comes first. The read itself keeps
// running after ctx ends.
func (p *Pending[V]) Await(ctx context.Context) (V, bool, error) {
	return p.resolve(p.f.Await(ctx))
}
