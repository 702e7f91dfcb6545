// Package distribution routes commands to the nodes owning their keys.
//
// Commands that originate on this node are sent to the live owners of their keys:
// this node runs its share through the rest of the chain, other owners get the command
// through a RemoteClient. Commands arriving from other nodes, and commands flagged
// FlagLocalOnly, always run locally. Keys without any live owner read as absent; the
// partition stage upstream decides whether that absence can be trusted.
package distribution

import (
	"context"
	"errors"
	"slices"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/log"
)

// RemoteClient executes cmd on node as a remote-origin invocation.
type RemoteClient interface {
	Invoke(ctx context.Context, node string, cmd *command.Command) (any, error)
}

// PartialCommitRecorder is told about commits that reached only part of their owners.
type PartialCommitRecorder interface {
	MarkPartiallyCommitted(ctx context.Context, txID string, failed []string) error
}

type Locator interface {
	Locate(key string) []string
}

type Membership interface {
	LiveMembers() []string
}

type Options struct {
	Recorder PartialCommitRecorder // optional
	Logger   log.Logger
}

type Interceptor struct {
	self    string
	owners  Locator
	members Membership
	client  RemoteClient
	rec     PartialCommitRecorder
	log     log.Logger
}

func New(self string, owners Locator, members Membership, client RemoteClient, opts Options) *Interceptor {
	return &Interceptor{
		self:    self,
		owners:  owners,
		members: members,
		client:  client,
		rec:     opts.Recorder,
		log:     log.OrNop(opts.Logger),
	}
}

func (d *Interceptor) Visit(inv *interceptor.Invocation, cmd *command.Command) interceptor.Step {
	if !inv.IsOriginLocal() || cmd.HasFlag(command.FlagLocalOnly) {
		return inv.Forward(cmd)
	}
	live := d.members.LiveMembers()

	switch cmd.Kind {
	case command.Get, command.GetEntry:
		return inv.Suspend(d.read(inv, cmd, live))
	case command.GetAll:
		return inv.Suspend(d.getAll(inv, cmd, live))
	case command.Put, command.Remove, command.Replace, command.ApplyDelta:
		return inv.Suspend(d.write(inv, cmd, live))
	case command.PutAll:
		return inv.Suspend(d.putAll(inv, cmd, live))
	case command.Clear:
		return inv.Suspend(d.broadcast(inv, cmd, live, func([]any) any { return nil }))
	case command.KeySet:
		return inv.Suspend(d.broadcast(inv, cmd, live, mergeKeys))
	case command.EntrySet:
		return inv.Suspend(d.broadcast(inv, cmd, live, mergeEntries))
	case command.Prepare, command.Commit, command.Rollback:
		return inv.Suspend(d.tx(inv, cmd, live))
	}
	return inv.Forward(cmd)
}

// liveOwners returns the reachable owners of key, this node first when it is one.
func (d *Interceptor) liveOwners(key string, live []string) []string {
	var out []string
	for _, o := range d.owners.Locate(key) {
		if slices.Contains(live, o) {
			out = append(out, o)
		}
	}
	if i := slices.Index(out, d.self); i > 0 {
		out[0], out[i] = out[i], out[0]
	}
	return out
}

// on runs cmd on node: locally through the rest of the chain, or remotely.
func (d *Interceptor) on(inv *interceptor.Invocation, node string, cmd *command.Command) *interceptor.Future {
	if node == d.self {
		return inv.Fork(cmd)
	}
	ctx := inv.Context()
	return interceptor.Go(func() (any, error) {
		v, err := d.client.Invoke(ctx, node, cmd)
		if err != nil && !cluster.IsTransportError(err) {
			err = &cluster.TransportError{Node: node, Op: cmd.Kind.String(), Err: err}
		}
		return v, err
	})
}

func (d *Interceptor) read(inv *interceptor.Invocation, cmd *command.Command, live []string) *interceptor.Future {
	owners := d.liveOwners(cmd.Key, live)
	if len(owners) == 0 {
		d.log.Debug("no live owner, reading as absent", log.Fields{"key": cmd.Key})
		if cmd.Kind == command.GetEntry {
			return interceptor.Completed((*command.Entry)(nil), nil)
		}
		return interceptor.Completed([]byte(nil), nil)
	}
	return d.on(inv, owners[0], cmd)
}

func (d *Interceptor) getAll(inv *interceptor.Invocation, cmd *command.Command, live []string) *interceptor.Future {
	groups := make(map[string][]string)
	var order []string
	for _, k := range cmd.Keys {
		owners := d.liveOwners(k, live)
		if len(owners) == 0 {
			continue
		}
		n := owners[0]
		if _, ok := groups[n]; !ok {
			order = append(order, n)
		}
		groups[n] = append(groups[n], k)
	}
	futs := make([]*interceptor.Future, 0, len(order))
	for _, n := range order {
		futs = append(futs, d.on(inv, n, command.NewGetAll(groups[n]...)))
	}
	return all(futs).Then(func(v any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		out := make(map[string][]byte, len(cmd.Keys))
		for _, r := range v.([]any) {
			m, _ := r.(map[string][]byte)
			for k, val := range m {
				out[k] = val
			}
		}
		return out, nil
	})
}

// write runs cmd on the primary live owner and then brings the other live owners to the
// resulting state.
func (d *Interceptor) write(inv *interceptor.Invocation, cmd *command.Command, live []string) *interceptor.Future {
	owners := d.liveOwners(cmd.Key, live)
	if len(owners) == 0 {
		return interceptor.Completed(nil, &cluster.TransportError{Op: cmd.Kind.String(), Err: cluster.ErrNoLiveOwner})
	}
	primary := d.on(inv, owners[0], cmd)
	if len(owners) == 1 {
		return primary
	}
	next := interceptor.NewFuture()
	primary.Then(func(v any, err error) (any, error) {
		if err != nil {
			next.Complete(nil, err)
			return nil, nil
		}
		rc := replicaCommand(cmd, v)
		if rc == nil {
			next.Complete(v, nil)
			return nil, nil
		}
		futs := make([]*interceptor.Future, 0, len(owners)-1)
		for _, o := range owners[1:] {
			futs = append(futs, d.on(inv, o, rc))
		}
		all(futs).Then(func(_ any, rerr error) (any, error) {
			next.Complete(v, rerr)
			return nil, nil
		})
		return nil, nil
	})
	return next
}

// replicaCommand is what the other owners apply once the primary answered v; nil when
// nothing changed.
func replicaCommand(cmd *command.Command, v any) *command.Command {
	var rc *command.Command
	switch cmd.Kind {
	case command.Put, command.Remove:
		rc = cmd
	case command.Replace:
		if ok, _ := v.(bool); !ok {
			return nil
		}
		rc = command.NewPut(cmd.Key, cmd.Value, cmd.TTL)
	case command.ApplyDelta:
		b, _ := v.([]byte)
		rc = command.NewPut(cmd.Key, b, cmd.TTL)
	default:
		return nil
	}
	return rc.WithFlags(command.FlagIgnoreReturnValues)
}

func (d *Interceptor) putAll(inv *interceptor.Invocation, cmd *command.Command, live []string) *interceptor.Future {
	perNode := make(map[string]map[string][]byte)
	var order []string
	var unowned []string
	for _, k := range cmd.AffectedKeys() {
		owners := d.liveOwners(k, live)
		if len(owners) == 0 {
			unowned = append(unowned, k)
			continue
		}
		for _, o := range owners {
			if _, ok := perNode[o]; !ok {
				perNode[o] = make(map[string][]byte)
				order = append(order, o)
			}
			perNode[o][k] = cmd.Items[k]
		}
	}
	if len(unowned) > 0 {
		return interceptor.Completed(nil, &cluster.TransportError{Op: cmd.Kind.String(), Err: cluster.ErrNoLiveOwner})
	}
	futs := make([]*interceptor.Future, 0, len(order))
	for _, n := range order {
		futs = append(futs, d.on(inv, n, command.NewPutAll(perNode[n], cmd.TTL)))
	}
	return all(futs).Then(func(_ any, err error) (any, error) { return nil, err })
}

// broadcast runs cmd on every live member and merges the answers.
func (d *Interceptor) broadcast(inv *interceptor.Invocation, cmd *command.Command, live []string, merge func([]any) any) *interceptor.Future {
	nodes := slices.Clone(live)
	if !slices.Contains(nodes, d.self) {
		nodes = append(nodes, d.self)
	}
	futs := make([]*interceptor.Future, 0, len(nodes))
	for _, n := range nodes {
		futs = append(futs, d.on(inv, n, cmd))
	}
	return all(futs).Then(func(v any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		return merge(v.([]any)), nil
	})
}

// tx sends a transaction boundary to every live owner of the keys it touches. A commit
// that succeeded somewhere but failed on a reachable owner is recorded as partial.
func (d *Interceptor) tx(inv *interceptor.Invocation, cmd *command.Command, live []string) *interceptor.Future {
	t := inv.Transaction(cmd)
	if t == nil {
		return inv.Fork(cmd)
	}
	if cmd.Tx == nil {
		c := *cmd
		c.Tx = t
		cmd = &c
	}
	var nodes, unowned []string
	for _, k := range t.AffectedKeys() {
		owners := d.liveOwners(k, live)
		if len(owners) == 0 {
			unowned = append(unowned, k)
		}
		for _, o := range owners {
			if !slices.Contains(nodes, o) {
				nodes = append(nodes, o)
			}
		}
	}
	// Rollback still reaches whichever owners are left.
	if len(unowned) > 0 && cmd.Kind != command.Rollback {
		d.log.Warn("transaction keys without a live owner", log.Fields{"tx": t.ID, "kind": cmd.Kind.String(), "keys": unowned})
		return interceptor.Completed(nil, &cluster.TransportError{Op: cmd.Kind.String(), Err: cluster.ErrNoLiveOwner})
	}
	if len(nodes) == 0 {
		return inv.Fork(cmd)
	}

	futs := make([]*interceptor.Future, len(nodes))
	for i, n := range nodes {
		c := *cmd
		c.Tx = d.share(t, n, live)
		futs[i] = d.on(inv, n, &c)
	}
	ctx := inv.Context()
	return settle(futs).Then(func(v any, _ error) (any, error) {
		errs := v.([]error)
		var failed []string
		for i, err := range errs {
			if err != nil {
				failed = append(failed, nodes[i])
			}
		}
		if len(failed) == 0 {
			return nil, nil
		}
		joined := errors.Join(errs...)
		if cmd.Kind == command.Commit && len(failed) < len(nodes) && d.rec != nil {
			if err := d.rec.MarkPartiallyCommitted(ctx, t.ID, failed); err != nil {
				d.log.Error("recording partial commit failed", log.Fields{"tx": t.ID, "err": err})
			}
		}
		d.log.Warn("transaction command failed on some owners", log.Fields{"tx": t.ID, "kind": cmd.Kind.String(), "failed": failed})
		return nil, joined
	})
}

// share is the part of t that node owns: its keys' modifications, PutAll split down
// to the owned items.
func (d *Interceptor) share(t *command.Transaction, node string, live []string) *command.Transaction {
	owns := func(k string) bool { return slices.Contains(d.liveOwners(k, live), node) }
	out := &command.Transaction{ID: t.ID}
	for _, m := range t.Modifications {
		if m.Kind != command.PutAll {
			if owns(m.Key) {
				out.Modifications = append(out.Modifications, m)
			}
			continue
		}
		items := make(map[string][]byte)
		for k, v := range m.Items {
			if owns(k) {
				items[k] = v
			}
		}
		if len(items) > 0 {
			c := *m
			c.Items = items
			out.Modifications = append(out.Modifications, &c)
		}
	}
	return out
}

func mergeKeys(parts []any) any {
	var out []string
	for _, p := range parts {
		ks, _ := p.([]string)
		out = append(out, ks...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// mergeEntries keeps the highest version of each key.
func mergeEntries(parts []any) any {
	best := make(map[string]command.Entry)
	for _, p := range parts {
		es, _ := p.([]command.Entry)
		for _, e := range es {
			if cur, ok := best[e.Key]; !ok || e.Version > cur.Version {
				best[e.Key] = e
			}
		}
	}
	out := make([]command.Entry, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b command.Entry) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out
}
