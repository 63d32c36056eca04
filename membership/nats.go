package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rbaliyan/clusterbus"
)

const (
	defaultPresenceSubject = "clusterbus.presence"
	defaultPresenceTTL      = 15 * time.Second
	defaultPresenceInterval = 5 * time.Second
)

// NATS is a Membership backend built on a NATS Core presence subject: each
// node periodically publishes its own address, and every node keeps a
// last-seen timestamp per peer, sweeping out anyone who goes quiet for
// longer than the TTL. This needs no persistence, matching NATS Core's
// at-most-once delivery model.
type NATS struct {
	conn     *nats.Conn
	subject  string
	ttl      time.Duration
	interval time.Duration

	mu       sync.Mutex
	lastSeen map[clusterbus.NodeAddress]time.Time
	watch    crashWatchers

	sub        *nats.Subscription
	cancelJoin context.CancelFunc
	sweepStop  chan struct{}
}

// NATSOption configures a NATS membership tracker.
type NATSOption func(*NATS)

// WithPresenceSubject overrides the default NATS subject used to
// broadcast heartbeats.
func WithPresenceSubject(subject string) NATSOption {
	return func(n *NATS) { n.subject = subject }
}

// WithPresenceTTL sets how long a missed heartbeat is tolerated.
func WithPresenceTTL(ttl time.Duration) NATSOption {
	return func(n *NATS) { n.ttl = ttl }
}

// WithPresenceInterval sets how often the local node announces itself.
func WithPresenceInterval(d time.Duration) NATSOption {
	return func(n *NATS) { n.interval = d }
}

// NewNATS wraps an existing NATS connection. The connection is not closed
// by Close; callers that own the connection's lifecycle close it
// themselves.
func NewNATS(conn *nats.Conn, opts ...NATSOption) *NATS {
	n := &NATS{
		conn:     conn,
		subject:  defaultPresenceSubject,
		ttl:      defaultPresenceTTL,
		interval: defaultPresenceInterval,
		lastSeen: make(map[clusterbus.NodeAddress]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *NATS) Join(ctx context.Context, local clusterbus.NodeAddress) error {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		addr, err := clusterbus.ParseNodeAddress(string(msg.Data))
		if err != nil {
			return
		}
		n.mu.Lock()
		n.lastSeen[addr] = time.Now()
		n.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	n.sub = sub

	n.mu.Lock()
	n.lastSeen[local] = time.Now()
	n.mu.Unlock()

	announceCtx, cancel := context.WithCancel(context.Background())
	n.cancelJoin = cancel
	n.sweepStop = make(chan struct{})
	go n.announceLoop(announceCtx, local)
	go n.sweepLoop(n.sweepStop)
	return nil
}

func (n *NATS) announceLoop(ctx context.Context, local clusterbus.NodeAddress) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	_ = n.conn.Publish(n.subject, []byte(local.String()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = n.conn.Publish(n.subject, []byte(local.String()))
		}
	}
}

func (n *NATS) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.sweep()
		}
	}
}

func (n *NATS) sweep() {
	deadline := time.Now().Add(-n.ttl)
	var gone []clusterbus.NodeAddress
	n.mu.Lock()
	for addr, seen := range n.lastSeen {
		if seen.Before(deadline) {
			gone = append(gone, addr)
			delete(n.lastSeen, addr)
		}
	}
	n.mu.Unlock()
	for _, addr := range gone {
		n.watch.notify(addr)
	}
}

func (n *NATS) Leave(_ context.Context, local clusterbus.NodeAddress) error {
	n.mu.Lock()
	if n.cancelJoin != nil {
		n.cancelJoin()
		n.cancelJoin = nil
	}
	delete(n.lastSeen, local)
	n.mu.Unlock()
	return nil
}

func (n *NATS) Nodes(_ context.Context) ([]clusterbus.NodeAddress, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]clusterbus.NodeAddress, 0, len(n.lastSeen))
	for addr := range n.lastSeen {
		out = append(out, addr)
	}
	return out, nil
}

func (n *NATS) OnNodeCrashed(fn func(clusterbus.NodeAddress)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.watch.add(fn)
}

func (n *NATS) Close() error {
	n.mu.Lock()
	if n.cancelJoin != nil {
		n.cancelJoin()
		n.cancelJoin = nil
	}
	n.mu.Unlock()
	if n.sweepStop != nil {
		close(n.sweepStop)
	}
	if n.sub != nil {
		return n.sub.Unsubscribe()
	}
	return nil
}

var _ clusterbus.Membership = (*NATS)(nil)
