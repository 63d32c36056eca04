package membership

import (
	"context"
	"sync"

	"github.com/rbaliyan/clusterbus"
)

// Memory is an in-process Membership backend, suitable for a single test
// process driving several clusterbus.Node values over loopback. A real
// deployment needs a shared backend so every node observes the same view.
type Memory struct {
	mu    sync.Mutex
	nodes map[clusterbus.NodeAddress]struct{}
	watch crashWatchers
}

// NewMemory returns an empty in-memory membership tracker.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[clusterbus.NodeAddress]struct{})}
}

func (m *Memory) Join(_ context.Context, local clusterbus.NodeAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[local] = struct{}{}
	return nil
}

func (m *Memory) Leave(_ context.Context, local clusterbus.NodeAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, local)
	return nil
}

func (m *Memory) Nodes(_ context.Context) ([]clusterbus.NodeAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]clusterbus.NodeAddress, 0, len(m.nodes))
	for n := range m.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (m *Memory) OnNodeCrashed(fn func(clusterbus.NodeAddress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watch.add(fn)
}

// MarkCrashed removes node from the membership view and fires every
// registered crash handler. There is no automatic failure detector on
// this backend; tests call this directly to simulate a peer going away.
func (m *Memory) MarkCrashed(node clusterbus.NodeAddress) {
	m.mu.Lock()
	delete(m.nodes, node)
	m.mu.Unlock()
	m.watch.notify(node)
}

func (m *Memory) Close() error { return nil }

var _ clusterbus.Membership = (*Memory)(nil)
