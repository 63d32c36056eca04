package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rbaliyan/clusterbus/wire"
)

func TestHolderConnectsAndSends(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	received := make(chan wire.Envelope, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		framer := wire.NewFramer(conn)
		for {
			frame, err := framer.ReadFrame()
			if err != nil {
				return
			}
			env, err := wire.Decode(frame)
			if err != nil {
				return
			}
			if !env.IsPing() {
				received <- env
				return
			}
		}
	}()

	remote, err := wire.ParseNodeAddress(ln.Addr().String())
	if err != nil {
		t.Fatalf("ParseNodeAddress: %v", err)
	}
	local := wire.NodeAddress{Host: "127.0.0.1", Port: 9000}

	h := NewHolder(remote, local, WithKeepaliveInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)
	defer h.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.State() != StateReady && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.State() != StateReady {
		t.Fatalf("holder never became ready, state=%v", h.State())
	}

	if err := h.Send(ctx, wire.Envelope{Address: "orders.created", Body: []byte("hi")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case env := <-received:
		if env.Address != "orders.created" || string(env.Body) != "hi" {
			t.Fatalf("received %+v, want address=orders.created body=hi", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the envelope")
	}
}

func TestHolderQueuesWhileConnecting(t *testing.T) {
	remote := wire.NodeAddress{Host: "127.0.0.1", Port: 1} // nothing listens here
	local := wire.NodeAddress{Host: "127.0.0.1", Port: 9000}

	dialCalls := make(chan struct{}, 10)
	blockDial := make(chan struct{})
	h := NewHolder(remote, local, WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
		dialCalls <- struct{}{}
		<-blockDial
		return nil, context.DeadlineExceeded
	}))

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	defer cancel()
	defer close(blockDial)

	select {
	case <-dialCalls:
	case <-time.After(time.Second):
		t.Fatal("dialer was never called")
	}

	if err := h.Send(ctx, wire.Envelope{Address: "a"}); err != nil {
		t.Fatalf("Send while connecting should queue, got error: %v", err)
	}
	if h.State() != StateConnecting {
		t.Fatalf("State = %v, want connecting", h.State())
	}
}

func TestHolderDialFailureClosesAndNotifiesGiveUp(t *testing.T) {
	remote := wire.NodeAddress{Host: "127.0.0.1", Port: 1} // nothing listens here
	local := wire.NodeAddress{Host: "127.0.0.1", Port: 9000}

	gaveUp := make(chan wire.NodeAddress, 1)
	h := NewHolder(remote, local,
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, context.DeadlineExceeded
		}),
		WithOnGiveUp(func(peer wire.NodeAddress) { gaveUp <- peer }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	select {
	case peer := <-gaveUp:
		if peer != remote {
			t.Fatalf("onGiveUp peer = %v, want %v", peer, remote)
		}
	case <-time.After(time.Second):
		t.Fatal("onGiveUp was never called after a dial failure")
	}

	deadline := time.Now().Add(time.Second)
	for h.State() != StateClosed && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.State() != StateClosed {
		t.Fatalf("State = %v, want closed after a dial failure", h.State())
	}
	if err := h.Send(context.Background(), wire.Envelope{Address: "a"}); err != wire.ErrClosed {
		t.Fatalf("Send after dial failure = %v, want ErrClosed", err)
	}
}

func TestHolderPingTimeoutClosesAndNotifiesGiveUp(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	// Drain the server side so the holder's PING writes don't block, but
	// never answer, so the holder's keepalive deadline runs out.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := serverConn.Read(buf); err != nil {
				return
			}
		}
	}()

	remote := wire.NodeAddress{Host: "127.0.0.1", Port: 1}
	local := wire.NodeAddress{Host: "127.0.0.1", Port: 9000}

	gaveUp := make(chan wire.NodeAddress, 1)
	h := NewHolder(remote, local,
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			return clientConn, nil
		}),
		WithKeepaliveInterval(10*time.Millisecond),
		WithPingTimeout(20*time.Millisecond),
		WithOnGiveUp(func(peer wire.NodeAddress) { gaveUp <- peer }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	select {
	case peer := <-gaveUp:
		if peer != remote {
			t.Fatalf("onGiveUp peer = %v, want %v", peer, remote)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onGiveUp was never called after a ping timeout")
	}

	if h.State() != StateClosed {
		t.Fatalf("State = %v, want closed after a ping timeout", h.State())
	}
}

func TestHolderSendAfterCloseFails(t *testing.T) {
	remote := wire.NodeAddress{Host: "127.0.0.1", Port: 1}
	local := wire.NodeAddress{Host: "127.0.0.1", Port: 9000}
	h := NewHolder(remote, local, WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	}))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Send(context.Background(), wire.Envelope{Address: "a"}); err != wire.ErrClosed {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestHolderPendingQueueDropsOldest(t *testing.T) {
	remote := wire.NodeAddress{Host: "127.0.0.1", Port: 1}
	local := wire.NodeAddress{Host: "127.0.0.1", Port: 9000}
	blockDial := make(chan struct{})
	h := NewHolder(remote, local,
		WithPendingLimit(2),
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			<-blockDial
			return nil, context.DeadlineExceeded
		}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := h.Send(ctx, wire.Envelope{Address: "a"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	close(blockDial)

	if h.Dropped() != 3 {
		t.Fatalf("Dropped() = %d, want 3", h.Dropped())
	}
}
