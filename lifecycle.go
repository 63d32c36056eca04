package clusterbus

import (
	"context"
	"fmt"
	"net"

	"github.com/rbaliyan/clusterbus/transport"
	"github.com/rbaliyan/clusterbus/wire"
)

// lifecycleState is the Node's coarse startup/shutdown state, mirroring
// the CompareAndSwap-guarded status field idiom used throughout this
// codebase's connection holder and bus types.
type lifecycleState int32

const (
	stateInit lifecycleState = iota
	stateStarting
	stateRunning
	stateStopping
	stateStopped
)

func (s lifecycleState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateStarting:
		return "starting"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// start runs the node's one-time boot sequence: bind the peer listener,
// resolve the public address, join membership, install the node-crashed
// handler, and flip to running. It is called once from New.
func (n *Node) start(ctx context.Context) error {
	if !n.lifecycle.CompareAndSwap(int32(stateInit), int32(stateStarting)) {
		return fmt.Errorf("clusterbus: start called twice")
	}
	n.rootCtx = ctx

	listenAddr := fmt.Sprintf("%s:%d", n.opts.clusterHost, n.opts.clusterPort)
	server, err := transport.Listen(listenAddr,
		transport.WithServerOnEnvelope(n.onPeerEnvelope),
		transport.WithServerOnError(n.onPeerError),
	)
	if err != nil {
		n.lifecycle.Store(int32(stateInit))
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	n.server = server

	boundPort := 0
	if tcpAddr, ok := server.Addr().(*net.TCPAddr); ok {
		boundPort = tcpAddr.Port
	}
	publicHost := n.opts.publicHost
	publicPort := n.opts.publicPort
	if publicPort == 0 {
		publicPort = boundPort
	}
	n.public = wire.NodeAddress{Host: publicHost, Port: publicPort}

	if err := n.membership.Join(ctx, n.public); err != nil {
		server.Close()
		n.lifecycle.Store(int32(stateInit))
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	n.membership.OnNodeCrashed(n.onNodeCrashed)

	go n.runRouter()

	go func() {
		if err := n.server.Serve(ctx); err != nil {
			n.logger.Warn("peer listener stopped", "error", err)
		}
	}()

	n.lifecycle.Store(int32(stateRunning))
	n.logger.Info("node started", "public", n.public.String())
	return nil
}

// onNodeCrashed drops every subscription the crashed node held and
// closes the connection holder keeping it around, matching the
// membership callback the registry relies on to avoid routing to a dead
// peer.
func (n *Node) onNodeCrashed(addr wire.NodeAddress) {
	ctx := context.Background()
	if err := n.registry.RemoveAllForNode(ctx, addr); err != nil {
		n.logger.Warn("failed to clear subscriptions for crashed node", "node", addr.String(), "error", err)
	}
	if v, ok := n.holders.LoadAndDelete(addr); ok {
		v.(*transport.Holder).Close()
	}
	n.logger.Info("node crashed, cleaned up", "node", addr.String())
}

// Close stops the node: it closes the local bus to new handlers, closes
// the peer listener, closes every connection holder, and leaves the
// cluster membership view. Errors from each step are joined rather than
// stopping the sequence early, so a failure to close one holder doesn't
// leave the others open.
func (n *Node) Close(ctx context.Context) error {
	if !n.lifecycle.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		if lifecycleState(n.lifecycle.Load()) == stateStopped {
			return nil
		}
		return ErrNotStarted
	}

	close(n.routeStop)

	var errs []error
	if err := n.localBus.Close(); err != nil {
		errs = append(errs, err)
	}
	if n.server != nil {
		if err := n.server.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.holders.Range(func(_, v any) bool {
		if err := v.(*transport.Holder).Close(); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	if err := n.membership.Leave(ctx, n.public); err != nil {
		errs = append(errs, err)
	}
	if err := n.registry.RemoveAllForNode(ctx, n.public); err != nil {
		errs = append(errs, err)
	}

	n.lifecycle.Store(int32(stateStopped))
	return joinErrors(errs)
}

func (n *Node) requireRunning() error {
	if lifecycleState(n.lifecycle.Load()) != stateRunning {
		return ErrNotStarted
	}
	return nil
}
