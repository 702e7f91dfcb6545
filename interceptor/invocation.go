package interceptor

import (
	"context"
	"sync/atomic"

	"github.com/unkn0wn-root/splitcache/command"
)

// Origin tells where the command entered the cluster.
type Origin uint8

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Invocation is the per-call execution state of one logical operation.
//
// An Invocation must not be shared by concurrent operations, and must not be handed to
// Invoke/InvokeAsync again while a traversal for it is still running. Stages that need
// a nested traversal use Fork, or Clone the invocation first.
type Invocation struct {
	ctx    context.Context
	origin Origin
	source string
	tx     *command.Transaction

	busy   atomic.Bool
	stages []entry // snapshot taken when the traversal started
	pos    int     // stage currently visiting
}

type InvocationOption func(*Invocation)

// Remote marks the invocation as coming from another node.
func Remote(source string) InvocationOption {
	return func(inv *Invocation) {
		inv.origin = OriginRemote
		inv.source = source
	}
}

// WithTransaction associates the invocation with tx.
func WithTransaction(tx *command.Transaction) InvocationOption {
	return func(inv *Invocation) { inv.tx = tx }
}

// NewInvocation creates a local-origin invocation unless Remote is given.
func NewInvocation(ctx context.Context, opts ...InvocationOption) *Invocation {
	if ctx == nil {
		ctx = context.Background()
	}
	inv := &Invocation{ctx: ctx}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

// Context is the Go context I/O stages should honor.
func (inv *Invocation) Context() context.Context { return inv.ctx }

func (inv *Invocation) Origin() Origin      { return inv.origin }
func (inv *Invocation) IsOriginLocal() bool { return inv.origin == OriginLocal }

// Source is the node a remote invocation came from; empty for local ones.
func (inv *Invocation) Source() string { return inv.source }

// Transaction returns the associated transaction, falling back to the one carried by
// cmd when the invocation has none.
func (inv *Invocation) Transaction(cmd *command.Command) *command.Transaction {
	if inv.tx != nil {
		return inv.tx
	}
	if cmd != nil {
		return cmd.Tx
	}
	return nil
}

// InFlight reports whether a traversal is currently running for inv.
func (inv *Invocation) InFlight() bool { return inv.busy.Load() }

// Position is the index of the stage currently visiting.
func (inv *Invocation) Position() int { return inv.pos }

// Clone returns an idle copy, safe to hand to Invoke from inside a running stage.
func (inv *Invocation) Clone() *Invocation {
	return &Invocation{ctx: inv.ctx, origin: inv.origin, source: inv.source, tx: inv.tx}
}

// Fork runs cmd through the stages after the current one. The returned Future settles
// once that nested traversal does.
func (inv *Invocation) Fork(cmd *command.Command) *Future {
	return inv.forkAt(inv.pos+1, cmd)
}

// ForkWhole runs cmd through the whole chain snapshot, starting at the first stage.
func (inv *Invocation) ForkWhole(cmd *command.Command) *Future {
	return inv.forkAt(0, cmd)
}

// ForkSync is Fork followed by a wait.
func (inv *Invocation) ForkSync(cmd *command.Command) (any, error) {
	return inv.Fork(cmd).Wait()
}

func (inv *Invocation) forkAt(start int, cmd *command.Command) *Future {
	if !inv.busy.Load() {
		return Completed(nil, ErrNotInFlight)
	}
	child := &Invocation{
		ctx:    inv.ctx,
		origin: inv.origin,
		source: inv.source,
		tx:     inv.tx,
		stages: inv.stages,
	}
	child.busy.Store(true)
	f := drive(child, start, cmd)
	f.whenDone(func(any, error) { child.busy.Store(false) })
	return f
}

// drive walks forward steps iteratively and stops at the first stage that ends the
// traversal. It only blocks where a stage blocks.
func drive(inv *Invocation, start int, cmd *command.Command) *Future {
	for i := start; i < len(inv.stages); i++ {
		inv.pos = i
		st := inv.stages[i].ic.Visit(inv, cmd)
		switch st.kind {
		case stepForward:
			if st.cmd != nil {
				cmd = st.cmd
			}
		case stepReturn:
			return Completed(st.val, st.err)
		case stepSuspend:
			return st.fut
		}
	}
	// fell off the end: nothing handled the command
	inv.pos = len(inv.stages)
	return Completed(nil, nil)
}
