// Package sandbox owns the lifecycle of preview sandbox instances.
//
// At most one instance is active at a time. Rendering a new composed document
// discards the active instance, starts a new telemetry generation and only
// then starts the replacement, so no output of the old instance can reach
// the new Console Record.
package sandbox

import (
	"context"
	"sync"
)

// State is an instance lifecycle state. Transitions only move forward.
type State int

const (
	Uninstantiated State = iota
	Active
	Discarded
)

func (s State) String() string {
	switch s {
	case Uninstantiated:
		return "uninstantiated"
	case Active:
		return "active"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Instance is one sandbox instantiation of a composed document.
type Instance struct {
	generation uint64
	html       string

	mu     sync.Mutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newInstance(generation uint64, html string) *Instance {
	return &Instance{
		generation: generation,
		html:       html,
		done:       make(chan struct{}),
	}
}

// Generation identifies the instance; messages it emits carry this value.
func (i *Instance) Generation() uint64 { return i.generation }

// HTML returns the composed document the instance was created from.
func (i *Instance) HTML() string { return i.html }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Context is cancelled when the instance is discarded.
func (i *Instance) Context() context.Context {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ctx == nil {
		return context.Background()
	}
	return i.ctx
}

// Done is closed once the runner executing the instance has returned.
func (i *Instance) Done() <-chan struct{} { return i.done }

func (i *Instance) activate(parent context.Context) context.Context {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != Uninstantiated {
		return i.ctx
	}
	i.ctx, i.cancel = context.WithCancel(parent)
	i.state = Active
	return i.ctx
}

func (i *Instance) discard() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == Discarded {
		return
	}
	if i.cancel != nil {
		i.cancel()
	}
	i.state = Discarded
}
