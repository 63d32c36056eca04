package clusterbus

import "context"

// Registry maps addresses to the set of nodes subscribed to them. A Node
// consults it on every send and publish, and writes to it whenever a
// local handler is registered or removed. Implementations live in the
// registry package; the interface is declared here, not there, so that
// callers can wire in a backend without this package importing it.
type Registry interface {
	// Add records that node holds a subscription for address.
	Add(ctx context.Context, address string, node NodeAddress) error

	// Remove drops node's subscription for address and reports whether an
	// entry was actually found and dropped. It is not an error to remove a
	// subscription that was never present; the caller decides whether a
	// false found is worth surfacing (see ErrSubNotFound).
	Remove(ctx context.Context, address string, node NodeAddress) (found bool, err error)

	// RemoveAllForNode drops every subscription held by node, called when
	// the membership backend reports that node has left the cluster.
	RemoveAllForNode(ctx context.Context, node NodeAddress) error

	// Get returns the current holders of address. A nil or empty slice
	// means no node currently subscribes to address.
	Get(ctx context.Context, address string) ([]NodeAddress, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Membership tracks which nodes currently belong to the cluster and
// notifies watchers when a node is deemed to have crashed, mirroring the
// role Vert.x's HAManager plays alongside the subscription registry.
// Implementations live in the membership package.
type Membership interface {
	// Join announces local to the cluster.
	Join(ctx context.Context, local NodeAddress) error

	// Leave withdraws local from the cluster.
	Leave(ctx context.Context, local NodeAddress) error

	// Nodes returns the addresses currently believed to be members.
	Nodes(ctx context.Context) ([]NodeAddress, error)

	// OnNodeCrashed registers a callback invoked when a node is removed
	// from the cluster view, so the owner can clean up its registry
	// entries and connection holder for that peer.
	OnNodeCrashed(fn func(NodeAddress))

	// Close releases any resources held by the backend.
	Close() error
}
