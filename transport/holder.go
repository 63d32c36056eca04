package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/clusterbus/wire"
)

// ConnState is the lifecycle of one outbound peer connection.
type ConnState int32

const (
	// StateConnecting means a dial attempt is in flight or about to start.
	// Sends are queued rather than rejected.
	StateConnecting ConnState = iota
	// StateReady means the connection is established and frames can be
	// written directly.
	StateReady
	// StateClosed means the holder has been shut down and will not
	// reconnect; further sends fail immediately.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultPendingLimit = 1024
	defaultDialTimeout  = 5 * time.Second
	defaultKeepalive    = 20 * time.Second
	defaultPingTimeout  = 45 * time.Second
)

// Dialer opens the network connection to a remote node. Production code
// uses net.Dial; tests substitute an in-memory pipe.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Holder manages one outbound TCP connection to a single peer, queuing
// sends while connecting. It mirrors Vert.x's ConnectionHolder: the unit
// that owns a connection's lifecycle independently of any one message. A
// Holder makes exactly one connection attempt; a dial failure, a read
// error, or a missed PONG all close it for good and let the caller evict
// it from its holder map, so the next send lazily creates a fresh one.
// Reconnect-with-backoff is explicitly out of scope: this module leaves
// reliable delivery and retransmission to the caller.
type Holder struct {
	remote wire.NodeAddress
	local  wire.NodeAddress
	dial   Dialer

	pendingLimit int
	keepalive    time.Duration
	pingTimeout  time.Duration

	// onGiveUp is called once the holder decides the peer is unreachable
	// for good (dial failure, ping timeout, read error, or explicit
	// cancellation), letting the owner drop its registry entries and its
	// own reference to this holder.
	onGiveUp func(wire.NodeAddress)

	state atomic.Int32

	mu      sync.Mutex
	conn    net.Conn
	pending []wire.Envelope
	dropped atomic.Uint64

	lastPong atomic.Int64 // unix nanos

	closeOnce sync.Once
	closed    chan struct{}
}

// HolderOption configures a Holder.
type HolderOption func(*Holder)

func WithDialer(d Dialer) HolderOption { return func(h *Holder) { h.dial = d } }

func WithPendingLimit(n int) HolderOption {
	return func(h *Holder) { h.pendingLimit = n }
}

func WithKeepaliveInterval(d time.Duration) HolderOption {
	return func(h *Holder) { h.keepalive = d }
}

func WithPingTimeout(d time.Duration) HolderOption {
	return func(h *Holder) { h.pingTimeout = d }
}

func WithOnGiveUp(fn func(wire.NodeAddress)) HolderOption {
	return func(h *Holder) { h.onGiveUp = fn }
}

// NewHolder creates a Holder for remote, advertising local as the sender
// address on every envelope it writes. Start must be called to begin
// connecting.
func NewHolder(remote, local wire.NodeAddress, opts ...HolderOption) *Holder {
	h := &Holder{
		remote:       remote,
		local:        local,
		dial:         defaultDialer,
		pendingLimit: defaultPendingLimit,
		keepalive:    defaultKeepalive,
		pingTimeout:  defaultPingTimeout,
		onGiveUp:     func(wire.NodeAddress) {},
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.state.Store(int32(StateConnecting))
	return h
}

func defaultDialer(ctx context.Context, network, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: defaultDialTimeout}).DialContext(ctx, network, address)
}

// State reports the holder's current connection state.
func (h *Holder) State() ConnState {
	return ConnState(h.state.Load())
}

// Start begins the holder's single connection attempt in the background.
// It returns immediately; callers observe readiness via State or simply
// call Send, which queues until the connection is up.
func (h *Holder) Start(ctx context.Context) {
	go h.connectLoop(ctx)
}

// connectLoop makes the holder's one and only connection attempt. Per the
// documented failure contract, a dial failure, a serve error (read
// failure or missed PONG), or context cancellation all close the holder
// for good and notify onGiveUp; none of them are retried here.
func (h *Holder) connectLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		h.transitionClosed()
		return
	case <-h.closed:
		return
	default:
	}

	h.state.Store(int32(StateConnecting))
	conn, err := h.dial(ctx, "tcp", h.remote.String())
	if err != nil {
		Logger("transport.holder").Warn("dial failed, giving up", "remote", h.remote.String(), "error", err)
		h.transitionClosed()
		return
	}

	h.becomeReady(conn)
	h.lastPong.Store(time.Now().UnixNano())

	err = h.serve(ctx, conn)
	conn.Close()
	if h.State() == StateClosed {
		return
	}
	Logger("transport.holder").Warn("connection lost, giving up", "remote", h.remote.String(), "error", err)
	h.transitionClosed()
}

func (h *Holder) becomeReady(conn net.Conn) {
	h.mu.Lock()
	h.conn = conn
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	h.state.Store(int32(StateReady))

	for _, env := range pending {
		if err := h.writeEnvelope(env); err != nil {
			Logger("transport.holder").Warn("failed to flush queued envelope", "remote", h.remote.String(), "error", err)
			break
		}
	}
}

// serve runs the read loop and keepalive ticker for one live connection.
// It blocks until the connection fails or the holder is closed.
func (h *Holder) serve(ctx context.Context, conn net.Conn) error {
	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- h.readLoop(conn)
	}()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case err := <-readErrCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-h.closed:
			return nil
		case <-ticker.C:
			if time.Since(time.Unix(0, h.lastPong.Load())) > h.pingTimeout {
				return fmt.Errorf("%w: remote=%s", wire.ErrPingTimeout, h.remote.String())
			}
			if err := h.writeEnvelope(wire.Ping()); err != nil {
				return err
			}
		}
	}
}

// readLoop services an outbound connection, which is write-mostly: it
// never decodes length-framed envelopes back off the wire, it just treats
// any inbound byte as the PONG acknowledgement to the last PING sent.
func (h *Holder) readLoop(conn net.Conn) error {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return fmt.Errorf("transport: connection read failed: %w", err)
		}
		h.lastPong.Store(time.Now().UnixNano())
	}
}

func (h *Holder) writeEnvelope(env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return errors.New("transport: holder has no active connection")
	}
	if err := wire.WriteFrame(conn, data); err != nil {
		return fmt.Errorf("%w: %v", wire.ErrWriteFailed, err)
	}
	return nil
}

// Send writes env to the peer if the connection is ready, or queues it
// (dropping the oldest entry if the queue is full) while connecting. It
// returns an error immediately if the holder is closed.
func (h *Holder) Send(ctx context.Context, env wire.Envelope) error {
	if h.State() == StateClosed {
		return wire.ErrClosed
	}
	if h.State() == StateReady {
		if err := h.writeEnvelope(env); err == nil {
			return nil
		}
		// fall through to queue: a write failure means the connection is
		// about to be torn down by connectLoop, which will give up and
		// notify onGiveUp rather than retry.
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) >= h.pendingLimit {
		h.pending = h.pending[1:]
		h.dropped.Add(1)
	}
	h.pending = append(h.pending, env)
	return nil
}

// Dropped returns the number of queued envelopes discarded because the
// pending queue was full while the connection was down.
func (h *Holder) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Holder) transitionClosed() {
	h.state.Store(int32(StateClosed))
	h.onGiveUp(h.remote)
}

// Close stops the connect loop and closes the active connection, if any.
// It does not notify onGiveUp; callers that close intentionally already
// know the peer is gone.
func (h *Holder) Close() error {
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosed))
		close(h.closed)
		h.mu.Lock()
		if h.conn != nil {
			h.conn.Close()
		}
		h.mu.Unlock()
	})
	return nil
}
