package clusterbus

import "errors"

// Sentinel errors returned by the cluster transport. Wrap with fmt.Errorf
// and %w when adding context; callers should compare with errors.Is.
var (
	// ErrBindFailed means the node could not bind its peer listener.
	ErrBindFailed = errors.New("clusterbus: bind failed")

	// ErrRegistryUnavailable means the subscription registry backend could
	// not be reached for a read or write.
	ErrRegistryUnavailable = errors.New("clusterbus: registry unavailable")

	// ErrConnectFailed means an outbound connection to a peer could not be
	// established. A connection holder makes a single dial attempt; it does
	// not retry.
	ErrConnectFailed = errors.New("clusterbus: connect to peer failed")

	// ErrWriteFailed means a frame could not be written to a peer
	// connection. The connection holder closes for good and is evicted; the
	// next send to that peer creates a fresh holder.
	ErrWriteFailed = errors.New("clusterbus: write to peer failed")

	// ErrDecodeFailed means a frame read from a peer could not be decoded
	// as a valid envelope. The connection is not salvageable and is closed.
	ErrDecodeFailed = errors.New("clusterbus: decode envelope failed")

	// ErrLookupFailed means a point-to-point send found no handler for its
	// address: it was routed to this node's local bus and no local handler
	// was registered there. Message.Reply also returns it when the message
	// carries no reply address. Publish never returns it.
	ErrLookupFailed = errors.New("clusterbus: no subscribers for address")

	// ErrSubNotFound is returned by Subscription.Close when withdrawing this
	// node's registry entry for the address finds no such entry.
	ErrSubNotFound = errors.New("clusterbus: subscription not found")

	// ErrPingTimeout means a peer connection missed its keepalive deadline
	// and was closed.
	ErrPingTimeout = errors.New("clusterbus: ping timeout")

	// ErrClosed means the node has already been stopped.
	ErrClosed = errors.New("clusterbus: node closed")

	// ErrNotStarted means an operation requires a running node.
	ErrNotStarted = errors.New("clusterbus: node not started")
)

// joinErrors collapses a slice of errors collected during a best-effort
// shutdown sequence into one error, or nil if the slice is empty.
func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
