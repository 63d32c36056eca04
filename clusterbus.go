package clusterbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/clusterbus/localbus"
	"github.com/rbaliyan/clusterbus/partition"
	"github.com/rbaliyan/clusterbus/transport"
	"github.com/rbaliyan/clusterbus/wire"
)

// Node is one member of the cluster: a peer listener, a set of outbound
// connection holders to other members, a node-local bus for handlers
// registered here, and the registry/membership backends used to route
// everything else.
type Node struct {
	opts *options

	public  wire.NodeAddress
	server  *transport.Server
	holders sync.Map // wire.NodeAddress -> *transport.Holder
	rootCtx context.Context

	// routeCh is the sentinel context from spec: every dispatch, whatever
	// goroutine it originates on, is routed through this single channel
	// and drained by the one goroutine started in start(), so that two
	// sends issued back-to-back by a caller that isn't otherwise
	// serializing its own calls still get their registry lookups and
	// deliveries applied in submission order rather than racing.
	routeCh   chan routeRequest
	routeStop chan struct{}

	registry   Registry
	membership Membership
	localBus   *localbus.Bus[Message]

	// chooser picks one address out of a send's set of current holders,
	// round-robin. It lives here rather than in the registry package so
	// dispatch never has to import a backend package back into the root
	// package that declares Registry.
	chooser *partition.RoundRobinPartitioner

	// addrRefs counts, per address, how many non-local-only handlers this
	// node currently has registered locally. The registry is advertised to
	// on the first such handler and withdrawn from on the last, so that
	// several local handlers for the same address don't repeatedly add or
	// prematurely drop the one registry entry for this node.
	addrRefs sync.Map // string -> *atomic.Int64

	logger  *slog.Logger
	metrics *Metrics

	lifecycle atomic.Int32
}

// New constructs and starts a Node: it binds the peer listener, joins
// the configured membership backend, and begins accepting connections.
// The returned Node is ready to Handle, Send, and Publish immediately.
// Callers must eventually call Close to leave the cluster cleanly.
func New(ctx context.Context, opts ...Option) (*Node, error) {
	o := newOptions(opts...)
	if o.registry == nil {
		return nil, ErrRegistryUnavailable
	}
	if o.membership == nil {
		return nil, ErrRegistryUnavailable
	}

	metrics, err := newMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}

	n := &Node{
		opts:       o,
		registry:   o.registry,
		membership: o.membership,
		localBus:   localbus.New[Message](nil),
		chooser:    partition.NewRoundRobinPartitioner(),
		routeCh:    make(chan routeRequest, defaultRouteQueueSize),
		routeStop:  make(chan struct{}),
		logger:     o.logger.With("component", "clusterbus"),
		metrics:    metrics,
	}

	if err := n.start(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// Public returns the address other nodes use to dial back to this node.
func (n *Node) Public() NodeAddress {
	return n.public
}

// Handle registers fn for address on this node's local bus. Unless
// WithLocalOnly was passed, it also advertises this node in the shared
// registry the first time address gets a local handler, so remote nodes
// can find and route to it. The returned Subscription's Close unregisters
// fn from the local bus and, once the last non-local-only handler for
// address on this node is gone, withdraws the registry entry too.
func (n *Node) Handle(ctx context.Context, address string, fn HandlerFunc, opts ...HandleOption) (Subscription, error) {
	if err := n.requireRunning(); err != nil {
		return nil, err
	}
	cfg := newHandleConfig(opts...)

	wrapped := func(ctx context.Context, msg Message) error {
		return fn(ctx, msg)
	}
	localSub, err := n.localBus.Handle(address, wrapped)
	if err != nil {
		return nil, err
	}

	advertised := !cfg.localOnly
	if advertised && n.incrAddrRef(address) {
		if err := n.registry.Add(ctx, address, n.public); err != nil {
			n.decrAddrRef(address)
			localSub.Close()
			return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
		}
	}

	return &handlerSubscription{node: n, address: address, local: localSub, advertised: advertised}, nil
}

// incrAddrRef records one more non-local-only handler for address on this
// node and reports whether it was the first, i.e. whether the caller must
// now advertise the registration.
func (n *Node) incrAddrRef(address string) bool {
	v, _ := n.addrRefs.LoadOrStore(address, new(atomic.Int64))
	return v.(*atomic.Int64).Add(1) == 1
}

// decrAddrRef drops one non-local-only handler reference for address and
// reports whether it was the last, i.e. whether the caller must now
// withdraw the registration.
func (n *Node) decrAddrRef(address string) bool {
	v, ok := n.addrRefs.Load(address)
	if !ok {
		return true
	}
	counter := v.(*atomic.Int64)
	if counter.Add(-1) > 0 {
		return false
	}
	n.addrRefs.Delete(address)
	return true
}

// Subscription represents one Handle call. Close unregisters it from the
// local bus, and withdraws this node's registry entry for the address
// when it was the last advertised handler for that address here.
type Subscription interface {
	Close(ctx context.Context) error
}

type handlerSubscription struct {
	node    *Node
	address string
	local   localbusSubscription
	// advertised records whether this handler was the one that put (and
	// so may be the one to take) the registry entry for its address on
	// this node, per the ref-counting in incrAddrRef/decrAddrRef.
	advertised bool
}

// localbusSubscription narrows localbus.Subscription to just what this
// file needs, avoiding an import of the localbus package's concrete
// subscription type here.
type localbusSubscription interface {
	Close() error
}

func (s *handlerSubscription) Close(ctx context.Context) error {
	var errs []error
	if err := s.local.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.advertised && s.node.decrAddrRef(s.address) {
		found, err := s.node.registry.Remove(ctx, s.address, s.node.public)
		if err != nil {
			errs = append(errs, err)
		} else if !found {
			errs = append(errs, ErrSubNotFound)
		}
	}
	return joinErrors(errs)
}
