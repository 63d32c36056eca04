// Package membership tracks which nodes currently belong to the cluster.
// It plays the role Vert.x's HAManager plays alongside the subscription
// registry: knowing who is alive lets a node clean up registry entries
// and connection holders for a peer that has gone away, instead of
// leaving stale routes that silently drop messages forever.
package membership

import "github.com/rbaliyan/clusterbus"

// crashWatchers is held as a field by every backend in this package so they
// share the same OnNodeCrashed bookkeeping instead of repeating it.
type crashWatchers struct {
	fns []func(clusterbus.NodeAddress)
}

func (c *crashWatchers) add(fn func(clusterbus.NodeAddress)) {
	c.fns = append(c.fns, fn)
}

func (c *crashWatchers) notify(node clusterbus.NodeAddress) {
	for _, fn := range c.fns {
		fn(node)
	}
}
