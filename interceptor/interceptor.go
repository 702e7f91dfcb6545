// Package interceptor drives cache commands through an ordered chain of stages.
//
// Each stage receives the command and returns a Step telling the chain what to do next:
//
//	Forward       hand the (possibly replaced) command to the next stage
//	ShortCircuit  stop here with a final value; no later stage runs
//	Fail          stop here with an error
//	Suspend       the stage's result is whatever the given Future resolves to
//
// A stage post-processes results by forking: Invocation.Fork runs a command through the
// stages after the current one and returns a Future the stage can either wait on
// (ForkSync) or continue with Then and Suspend on. Stages dispatch on command.Kind with
// a switch whose default arm forwards unchanged.
package interceptor

import (
	"github.com/unkn0wn-root/splitcache/command"
)

// Interceptor is one stage of a Chain.
type Interceptor interface {
	Visit(inv *Invocation, cmd *command.Command) Step
}

// Func adapts a plain function to Interceptor. All Func stages share one type, so
// type-anchored chain edits cannot tell them apart.
type Func func(inv *Invocation, cmd *command.Command) Step

func (f Func) Visit(inv *Invocation, cmd *command.Command) Step { return f(inv, cmd) }

// Passthrough forwards every command unchanged. Embed it to get a default Visit.
type Passthrough struct{}

func (Passthrough) Visit(inv *Invocation, cmd *command.Command) Step { return inv.Forward(cmd) }

type stepKind uint8

const (
	stepForward stepKind = iota
	stepReturn
	stepSuspend
)

// Step is the outcome of one stage visit. The zero Step forwards the same command.
type Step struct {
	kind stepKind
	cmd  *command.Command
	val  any
	err  error
	fut  *Future
}

// Forward continues with the next stage. A nil cmd keeps the current command.
func (inv *Invocation) Forward(cmd *command.Command) Step {
	return Step{kind: stepForward, cmd: cmd}
}

// ShortCircuit ends the traversal with v.
func (inv *Invocation) ShortCircuit(v any) Step {
	return Step{kind: stepReturn, val: v}
}

// Fail ends the traversal with err.
func (inv *Invocation) Fail(err error) Step {
	return Step{kind: stepReturn, err: err}
}

// Return ends the traversal with whichever of v or err applies.
func (inv *Invocation) Return(v any, err error) Step {
	return Step{kind: stepReturn, val: v, err: err}
}

// Suspend ends this stage's visit with the outcome of f.
func (inv *Invocation) Suspend(f *Future) Step {
	if f == nil {
		return Step{kind: stepReturn, err: ErrNilFuture}
	}
	return Step{kind: stepSuspend, fut: f}
}
