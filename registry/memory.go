package registry

import (
	"context"
	"sync"

	"github.com/rbaliyan/clusterbus"
)

// Memory is an in-process Registry backend. It is the right choice for a
// single-node deployment or for tests; a real cluster needs a shared
// backend such as Redis so every node observes the same subscription set.
type Memory struct {
	mu      sync.RWMutex
	holders map[string]map[clusterbus.NodeAddress]struct{}
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{holders: make(map[string]map[clusterbus.NodeAddress]struct{})}
}

func (m *Memory) Add(_ context.Context, address string, node clusterbus.NodeAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.holders[address]
	if !ok {
		set = make(map[clusterbus.NodeAddress]struct{})
		m.holders[address] = set
	}
	set[node] = struct{}{}
	return nil
}

func (m *Memory) Remove(_ context.Context, address string, node clusterbus.NodeAddress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.holders[address]
	if !ok {
		return false, nil
	}
	if _, ok := set[node]; !ok {
		return false, nil
	}
	delete(set, node)
	if len(set) == 0 {
		delete(m.holders, address)
	}
	return true, nil
}

func (m *Memory) RemoveAllForNode(_ context.Context, node clusterbus.NodeAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for address, set := range m.holders {
		delete(set, node)
		if len(set) == 0 {
			delete(m.holders, address)
		}
	}
	return nil
}

func (m *Memory) Get(_ context.Context, address string) ([]clusterbus.NodeAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.holders[address]
	if !ok {
		return nil, nil
	}
	out := make([]clusterbus.NodeAddress, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

var _ clusterbus.Registry = (*Memory)(nil)
