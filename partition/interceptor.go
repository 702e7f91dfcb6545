package partition

import (
	"slices"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/hooks"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/log"
)

type Options struct {
	Logger log.Logger
	Hooks  hooks.Hooks
}

// Interceptor gates commands against the Manager.
//
// Writes and bulk operations are checked before they go downstream. Single-key and
// batch reads are optimistic: they run first and the outcome is checked afterwards,
// since the mode may have changed while a remote owner was answering. This narrows the
// window in which a stale value can be returned but does not close it: a value read
// before this node noticed the split is still returned.
type Interceptor struct {
	mgr     Manager
	members Membership
	owners  Ownership
	log     log.Logger
	hooks   hooks.Hooks
}

func NewInterceptor(mgr Manager, members Membership, owners Ownership, opts Options) *Interceptor {
	return &Interceptor{
		mgr:     mgr,
		members: members,
		owners:  owners,
		log:     log.OrNop(opts.Logger),
		hooks:   hooks.OrNop(opts.Hooks),
	}
}

// performCheck: remote commands are always checked; local ones unless they opted out
// with FlagLocalOnly.
func performCheck(inv *interceptor.Invocation, cmd *command.Command) bool {
	return !inv.IsOriginLocal() || !cmd.HasFlag(command.FlagLocalOnly)
}

func (p *Interceptor) Visit(inv *interceptor.Invocation, cmd *command.Command) interceptor.Step {
	switch cmd.Kind {
	case command.Put, command.Remove, command.Replace, command.ApplyDelta, command.PutAll:
		if performCheck(inv, cmd) {
			for _, k := range cmd.AffectedKeys() {
				if err := p.mgr.CheckWrite(k); err != nil {
					return p.deny(inv, cmd, err, k)
				}
			}
		}
		return inv.Forward(cmd)

	case command.Clear:
		if performCheck(inv, cmd) {
			if err := p.mgr.CheckClear(); err != nil {
				return p.deny(inv, cmd, err)
			}
		}
		return inv.Forward(cmd)

	case command.KeySet, command.EntrySet:
		if performCheck(inv, cmd) {
			if err := p.mgr.CheckBulkRead(); err != nil {
				return p.deny(inv, cmd, err)
			}
		}
		return inv.Forward(cmd)

	case command.Get, command.GetEntry:
		check := performCheck(inv, cmd)
		return inv.Suspend(inv.Fork(cmd).Then(func(v any, err error) (any, error) {
			return p.afterRead(check, cmd, v, err)
		}))

	case command.GetAll:
		check := performCheck(inv, cmd)
		return inv.Suspend(inv.Fork(cmd).Then(func(v any, err error) (any, error) {
			return p.afterGetAll(check, cmd, v, err)
		}))

	case command.Prepare, command.Commit:
		local := inv.IsOriginLocal()
		tx := inv.Transaction(cmd)
		return inv.Suspend(inv.Fork(cmd).Then(func(v any, err error) (any, error) {
			if err != nil || !local {
				return v, err
			}
			if err := p.afterTx(tx); err != nil {
				return nil, err
			}
			return v, nil
		}))
	}
	return inv.Forward(cmd)
}

func (p *Interceptor) deny(inv *interceptor.Invocation, cmd *command.Command, err error, keys ...string) interceptor.Step {
	p.log.Debug("command refused", log.Fields{"kind": cmd.Kind.String(), "keys": keys, "origin": inv.Origin().String(), "err": err})
	p.hooks.AvailabilityDenied(cmd.Kind.String(), keys)
	return inv.Fail(err)
}

func (p *Interceptor) afterRead(check bool, cmd *command.Command, v any, err error) (any, error) {
	key := cmd.Key
	if err != nil {
		if check && cluster.IsTransportError(err) {
			if denied := p.mgr.CheckRead(key); denied != nil {
				return nil, p.mask(cmd.Kind, []string{key}, err)
			}
		}
		return nil, err
	}
	if !check {
		return v, nil
	}
	// the mode may have changed while the read was in flight
	if err := p.mgr.CheckRead(key); err != nil {
		p.hooks.AvailabilityDenied(cmd.Kind.String(), []string{key})
		return nil, err
	}
	// An absent value is only trusted while at least one owner is reachable; with every
	// owner gone it may just mean this node has not noticed the split yet.
	if command.Absent(v) && !p.anyOwnerLive(key, p.members.LiveMembers()) {
		p.hooks.SuspectAbsence([]string{key})
		return nil, KeyUnavailable(cmd.Kind.String(), key)
	}
	return v, nil
}

func (p *Interceptor) afterGetAll(check bool, cmd *command.Command, v any, err error) (any, error) {
	if err != nil {
		if check && cluster.IsTransportError(err) {
			for _, k := range cmd.Keys {
				if p.mgr.CheckRead(k) != nil {
					return nil, p.mask(cmd.Kind, cmd.Keys, err)
				}
			}
		}
		return nil, err
	}
	if !check {
		return v, nil
	}
	for _, k := range cmd.Keys {
		if err := p.mgr.CheckRead(k); err != nil {
			p.hooks.AvailabilityDenied(cmd.Kind.String(), []string{k})
			return nil, err
		}
	}

	found, _ := v.(map[string][]byte)
	if len(found) == len(cmd.Keys) {
		return v, nil
	}
	live := p.members.LiveMembers()
	var suspect []string
	for _, k := range cmd.Keys {
		if _, ok := found[k]; ok {
			continue
		}
		if !p.anyOwnerLive(k, live) {
			suspect = append(suspect, k)
		}
	}
	if len(suspect) > 0 {
		p.hooks.SuspectAbsence(suspect)
		return nil, KeyUnavailable(cmd.Kind.String(), suspect...)
	}
	return v, nil
}

func (p *Interceptor) afterTx(tx *command.Transaction) error {
	if !tx.HasModifications() || p.mgr.AvailabilityMode() == Available {
		return nil
	}
	if p.mgr.IsPartiallyCommitted(tx.ID) {
		return nil
	}
	for _, k := range tx.AffectedKeys() {
		if err := p.mgr.CheckWrite(k); err != nil {
			p.log.Debug("transaction touched unavailable key", log.Fields{"tx": tx.ID, "key": k})
			p.hooks.AvailabilityDenied("tx", []string{k})
			return err
		}
	}
	return nil
}

// mask replaces a transport failure with the availability error this node would have
// raised anyway.
func (p *Interceptor) mask(kind command.Kind, keys []string, cause error) error {
	p.log.Debug("masking transport failure", log.Fields{"kind": kind.String(), "keys": keys, "err": cause})
	p.hooks.ReadMasked(keys, cause)
	ae := KeyUnavailable(kind.String(), keys...)
	ae.Cause = cause
	return ae
}

func (p *Interceptor) anyOwnerLive(key string, live []string) bool {
	for _, o := range p.owners.Locate(key) {
		if slices.Contains(live, o) {
			return true
		}
	}
	return false
}
