package interceptor

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/hooks"
	"github.com/unkn0wn-root/splitcache/log"
)

type entry struct {
	ic     Interceptor
	custom bool
}

// Options tune a Chain. Both fields are optional.
type Options struct {
	Logger log.Logger
	Hooks  hooks.Hooks
}

// Chain is an ordered sequence of interceptors.
//
// Structural edits are serialized and publish a fresh immutable slice; an invocation
// takes one snapshot when it starts and every fork of it reuses that snapshot, so it
// never observes a half-applied edit. Invoke/InvokeAsync are safe for concurrent use
// as long as every caller brings its own Invocation.
type Chain struct {
	mu     sync.Mutex // serializes edits; readers never take it
	stages atomic.Pointer[[]entry]

	log   log.Logger
	hooks hooks.Hooks
}

// New builds a chain with the given built-in stages, in order.
func New(opts Options, stages ...Interceptor) *Chain {
	c := &Chain{
		log:   log.OrNop(opts.Logger),
		hooks: hooks.OrNop(opts.Hooks),
	}
	es := make([]entry, 0, len(stages))
	for _, s := range stages {
		es = append(es, entry{ic: s})
	}
	c.stages.Store(&es)
	return c
}

// TypeOf returns the reflect.Type used to anchor type-relative edits.
func TypeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

func (c *Chain) load() []entry { return *c.stages.Load() }

func (c *Chain) Size() int { return len(c.load()) }

// Snapshot returns the current stages, in order.
func (c *Chain) Snapshot() []Interceptor {
	es := c.load()
	out := make([]Interceptor, len(es))
	for i, e := range es {
		out[i] = e.ic
	}
	return out
}

// Custom returns the stages appended as user-supplied, in chain order.
func (c *Chain) Custom() []Interceptor {
	var out []Interceptor
	for _, e := range c.load() {
		if e.custom {
			out = append(out, e.ic)
		}
	}
	return out
}

// edit applies fn to a private copy of the stages and publishes the result when fn
// reports a change.
func (c *Chain) edit(op string, fn func(es []entry) ([]entry, bool, error)) (bool, error) {
	c.mu.Lock()
	cur := c.load()
	next, changed, err := fn(append([]entry(nil), cur...))
	if err != nil || !changed {
		c.mu.Unlock()
		return false, err
	}
	c.stages.Store(&next)
	size := len(next)
	c.mu.Unlock()

	c.log.Debug("interceptor chain changed", log.Fields{"op": op, "size": size})
	c.hooks.ChainChanged(op, size)
	return true, nil
}

// Add inserts i at position (0 based). Valid positions are [0, Size()].
func (c *Chain) Add(i Interceptor, position int) error {
	_, err := c.edit("add", func(es []entry) ([]entry, bool, error) {
		if position < 0 || position > len(es) {
			return nil, false, &StructuralError{Op: "add", Position: position, Size: len(es)}
		}
		return insert(es, position, entry{ic: i}), true, nil
	})
	return err
}

// Remove drops the stage at position. Valid positions are [0, Size()).
func (c *Chain) Remove(position int) error {
	_, err := c.edit("remove", func(es []entry) ([]entry, bool, error) {
		if position < 0 || position >= len(es) {
			return nil, false, &StructuralError{Op: "remove", Position: position, Size: len(es)}
		}
		return append(es[:position], es[position+1:]...), true, nil
	})
	return err
}

// RemoveAll drops every stage whose concrete type is t.
func (c *Chain) RemoveAll(t reflect.Type) {
	_, _ = c.edit("remove_all", func(es []entry) ([]entry, bool, error) {
		out := es[:0]
		for _, e := range es {
			if reflect.TypeOf(e.ic) != t {
				out = append(out, e)
			}
		}
		return out, len(out) != len(es), nil
	})
}

// AddAfter inserts i right after the first stage of concrete type anchor.
// It reports false, leaving the chain as is, when no such stage exists.
func (c *Chain) AddAfter(i Interceptor, anchor reflect.Type) bool {
	ok, _ := c.edit("add_after", func(es []entry) ([]entry, bool, error) {
		idx := indexOfType(es, anchor)
		if idx < 0 {
			return nil, false, nil
		}
		return insert(es, idx+1, entry{ic: i}), true, nil
	})
	return ok
}

// AddBefore inserts i right before the first stage of concrete type anchor.
func (c *Chain) AddBefore(i Interceptor, anchor reflect.Type) bool {
	ok, _ := c.edit("add_before", func(es []entry) ([]entry, bool, error) {
		idx := indexOfType(es, anchor)
		if idx < 0 {
			return nil, false, nil
		}
		return insert(es, idx, entry{ic: i}), true, nil
	})
	return ok
}

// Replace swaps the first stage of concrete type target for i.
func (c *Chain) Replace(i Interceptor, target reflect.Type) bool {
	ok, _ := c.edit("replace", func(es []entry) ([]entry, bool, error) {
		idx := indexOfType(es, target)
		if idx < 0 {
			return nil, false, nil
		}
		es[idx] = entry{ic: i, custom: es[idx].custom}
		return es, true, nil
	})
	return ok
}

// Append adds i at the tail. custom marks user-supplied stages; it only affects Custom().
func (c *Chain) Append(i Interceptor, custom bool) {
	_, _ = c.edit("append", func(es []entry) ([]entry, bool, error) {
		return append(es, entry{ic: i, custom: custom}), true, nil
	})
}

// FindExtending returns the first stage of type t, implementing t (interface t) or
// embedding t; nil if none.
func (c *Chain) FindExtending(t reflect.Type) Interceptor {
	for _, e := range c.load() {
		if extends(reflect.TypeOf(e.ic), t) {
			return e.ic
		}
	}
	return nil
}

// FindExact returns the first stage whose concrete type is t; nil if none.
func (c *Chain) FindExact(t reflect.Type) Interceptor {
	es := c.load()
	if idx := indexOfType(es, t); idx >= 0 {
		return es[idx].ic
	}
	return nil
}

// ContainsInstance reports whether i itself is part of the chain.
func (c *Chain) ContainsInstance(i Interceptor) bool {
	for _, e := range c.load() {
		if sameInstance(e.ic, i) {
			return true
		}
	}
	return false
}

// ContainsType reports whether a stage of type t exists; with includeSubtypes, stages
// implementing or embedding t match too.
func (c *Chain) ContainsType(t reflect.Type, includeSubtypes bool) bool {
	if !includeSubtypes {
		return indexOfType(c.load(), t) >= 0
	}
	return c.FindExtending(t) != nil
}

// FindExtending returns the first stage assignable to T.
func FindExtending[T any](c *Chain) (T, bool) {
	for _, e := range c.load() {
		if v, ok := e.ic.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// FindExact returns the first stage whose concrete type is exactly T.
func FindExact[T Interceptor](c *Chain) (T, bool) {
	var zero T
	if ic := c.FindExact(TypeOf[T]()); ic != nil {
		v, ok := ic.(T)
		return v, ok
	}
	return zero, false
}

// Invoke drives cmd through the chain and returns the final result, or the first
// error no stage recovered from.
func (c *Chain) Invoke(inv *Invocation, cmd *command.Command) (any, error) {
	return c.InvokeAsync(inv, cmd).Wait()
}

// InvokeAsync starts the traversal on the calling goroutine and returns as soon as the
// chain either settles or suspends.
func (c *Chain) InvokeAsync(inv *Invocation, cmd *command.Command) *Future {
	if inv == nil {
		return Completed(nil, ErrNilInvocation)
	}
	if !inv.busy.CompareAndSwap(false, true) {
		return Completed(nil, ErrReentrantInvocation)
	}
	inv.stages = c.load()
	f := drive(inv, 0, cmd)
	f.whenDone(func(any, error) { inv.busy.Store(false) })
	return f
}

func insert(es []entry, at int, e entry) []entry {
	es = append(es, entry{})
	copy(es[at+1:], es[at:])
	es[at] = e
	return es
}

func indexOfType(es []entry, t reflect.Type) int {
	for i, e := range es {
		if reflect.TypeOf(e.ic) == t {
			return i
		}
	}
	return -1
}

func extends(rt, t reflect.Type) bool {
	if rt == nil || t == nil {
		return false
	}
	if rt == t {
		return true
	}
	if t.Kind() == reflect.Interface {
		return rt.Implements(t)
	}
	return embeds(rt, t, 0)
}

// embeds walks anonymous fields; pointer and value embedding of t both count.
func embeds(rt, t reflect.Type, depth int) bool {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct || depth > 8 {
		return false
	}
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft == base || embeds(ft, t, depth+1) {
			return true
		}
	}
	return false
}

func sameInstance(a, b Interceptor) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil {
		return false
	}
	switch {
	case ta.Kind() == reflect.Func:
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	case ta.Comparable():
		return a == b
	}
	return false
}
