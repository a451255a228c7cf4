// Package overlay assembles the control-plane components (wire, event,
// bus, transport, topology, control) into a single runnable process, in
// the shape of Unity/NewUnity: one constructor that wires everything, a
// poweroff-style guarded shutdown, and a blocking run method.
package overlay

import (
	"context"
	"sync"

	"github.com/swessel1/overlay/pkg/overlay/control"
)

// Process is a single running overlay node: the join handshake, topology
// state, event bus, transport, and control loop, started together and
// torn down together.
type Process struct {
	node *control.Node

	off struct {
		sync.Mutex
		done bool
	}
}

// New assembles a Process from cfg without starting it.
func New(cfg control.Config) *Process {
	return &Process{node: control.New(cfg)}
}

// Node exposes the underlying control.Node, mainly for tests that want to
// inspect topology state directly.
func (p *Process) Node() *control.Node { return p.node }

// Run performs the join handshake (if any), binds the listener (if any),
// then blocks draining the Control Loop's Event Bus until ctx is
// cancelled or a fatal condition (§4.7 recovery failure) terminates the
// process from within the Control Loop itself.
func (p *Process) Run(ctx context.Context) error {
	if err := p.node.Start(ctx); err != nil {
		return err
	}
	return p.node.Run(ctx)
}

// Shutdown tears down the listener and every open connection. Safe to call
// more than once.
func (p *Process) Shutdown() {
	p.off.Lock()
	defer p.off.Unlock()
	if p.off.done {
		return
	}
	p.off.done = true
	p.node.Shutdown()
}

// Config is re-exported so callers that only need to assemble a Process
// don't have to import pkg/overlay/control directly for the common case.
type Config = control.Config
