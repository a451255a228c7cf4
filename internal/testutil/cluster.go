// Package testutil provides an in-process multi-node test harness over
// real loopback TCP, in the shape of test/testing.go's
// UnityCluster/CreateCluster/Next, adapted from a replicated-storage
// cluster to a tree-topology overlay cluster: each member here is a full
// control.Node bound to 127.0.0.1, not a simulated peer.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swessel1/overlay/internal/log"
	"github.com/swessel1/overlay/internal/metrics"
	"github.com/swessel1/overlay/pkg/overlay/control"
	"github.com/swessel1/overlay/pkg/overlay/wire"
)

// Member is one running overlay process within a Cluster.
type Member struct {
	Name string
	Node *control.Node

	cancel context.CancelFunc
	done   chan struct{}
}

// Cluster is a group of overlay processes wired together over loopback
// TCP, for end-to-end testing of the join handshake, topology relay, and
// parent-change recovery.
type Cluster struct {
	T       *testing.T
	Key     string
	members []*Member
	mutex   sync.Mutex
	wg      sync.WaitGroup
}

// New creates an empty Cluster sharing the given admission key.
func New(t *testing.T, key string) *Cluster {
	return &Cluster{T: t, Key: key}
}

// StartRoot brings up a root node (no parent) on an OS-assigned loopback
// port and returns its Member.
func (c *Cluster) StartRoot(name string, terminal bool, maxConn int) *Member {
	c.T.Helper()
	m, err := c.start(name, terminal, maxConn, nil)
	if err != nil {
		c.T.Fatalf("member %s failed to start: %v", name, err)
	}
	return m
}

// Join brings up a node that joins parent via the handshake, and returns
// its Member. Fails the test if the handshake does not succeed.
func (c *Cluster) Join(name string, terminal bool, maxConn int, parent *Member) *Member {
	c.T.Helper()
	m, err := c.TryJoin(name, terminal, maxConn, parent)
	if err != nil {
		c.T.Fatalf("member %s failed to join: %v", name, err)
	}
	return m
}

// TryJoin is Join without the test-failing assertion, for scenarios that
// expect the handshake to fail (e.g. a wrong admission key). The returned
// Member is always usable with Kill/Shutdown, even on a failed join, so
// its listener and goroutines are still torn down by the caller.
func (c *Cluster) TryJoin(name string, terminal bool, maxConn int, parent *Member) (*Member, error) {
	addr := wire.PeerAddr{IP: 0x7f000001, Port: parent.Node.ListeningPort()}
	return c.start(name, terminal, maxConn, &addr)
}

func (c *Cluster) start(name string, terminal bool, maxConn int, parentAddr *wire.PeerAddr) (*Member, error) {
	c.T.Helper()

	cfg := control.Config{
		Key:         c.Key,
		Terminal:    terminal,
		TCPPort:     0,
		MaxConn:     maxConn,
		ParentAddr:  parentAddr,
		BusCapacity: 64,
		Logger:      log.Noop(),
		Metrics:     metrics.Noop(),
	}
	node := control.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	m := &Member{Name: name, Node: node, cancel: cancel, done: make(chan struct{})}

	startErr := node.Start(ctx)

	c.mutex.Lock()
	c.members = append(c.members, m)
	c.mutex.Unlock()

	if startErr != nil {
		close(m.done)
		return m, startErr
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(m.done)
		_ = node.Run(ctx)
	}()

	return m, nil
}

// Kill stops a member's Control Loop and closes its connections, simulating
// the loss of that node from the perspective of its peers.
func (c *Cluster) Kill(m *Member) {
	m.cancel()
	m.Node.Shutdown()
	<-m.done
}

// Shutdown stops every member.
func (c *Cluster) Shutdown() {
	c.mutex.Lock()
	members := append([]*Member(nil), c.members...)
	c.mutex.Unlock()

	for _, m := range members {
		m.cancel()
		m.Node.Shutdown()
	}
	c.wg.Wait()
}

// WaitUntil polls cond every tick until it returns true or timeout elapses,
// failing the test on timeout. In the shape of WaitThisOrTimeout.
func WaitUntil(t *testing.T, timeout, tick time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition not met within %s", timeout)
		case <-ticker.C:
		}
	}
}
