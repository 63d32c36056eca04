package clusterbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/clusterbus"
	"github.com/rbaliyan/clusterbus/membership"
	"github.com/rbaliyan/clusterbus/registry"
)

func newTestNode(t *testing.T, reg clusterbus.Registry, mem clusterbus.Membership) *clusterbus.Node {
	t.Helper()
	ctx := context.Background()
	node, err := clusterbus.New(ctx,
		clusterbus.WithClusterHost("127.0.0.1"),
		clusterbus.WithClusterPort(0),
		clusterbus.WithRegistry(reg),
		clusterbus.WithMembership(mem),
		clusterbus.WithKeepaliveInterval(time.Hour),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		node.Close(context.Background())
	})
	return node
}

func TestSingleNodeSendAndPublish(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()
	node := newTestNode(t, reg, mem)

	received := make(chan string, 4)
	_, err := node.Handle(context.Background(), "orders.created", func(ctx context.Context, msg clusterbus.Message) error {
		received <- string(msg.Body)
		return nil
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if err := node.Send(context.Background(), "orders.created", []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case body := <-received:
		if body != "hello" {
			t.Fatalf("body = %q, want hello", body)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	if err := node.Publish(context.Background(), "orders.created", []byte("world")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case body := <-received:
		if body != "world" {
			t.Fatalf("body = %q, want world", body)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked for publish")
	}
}

func TestSendToUnknownAddressFails(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()
	node := newTestNode(t, reg, mem)

	err := node.Send(context.Background(), "nobody.listens", []byte("x"))
	if err != clusterbus.ErrLookupFailed {
		t.Fatalf("Send to unknown address = %v, want ErrLookupFailed", err)
	}
}

func TestTwoNodesRouteAcrossTheWire(t *testing.T) {
	reg := registry.NewMemory() // shared backend, simulating a real cluster's Redis
	mem := membership.NewMemory()

	nodeA := newTestNode(t, reg, mem)
	nodeB := newTestNode(t, reg, mem)

	received := make(chan string, 1)
	_, err := nodeB.Handle(context.Background(), "orders.created", func(ctx context.Context, msg clusterbus.Message) error {
		received <- string(msg.Body)
		return nil
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if err := nodeA.Send(context.Background(), "orders.created", []byte("cross-node")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case body := <-received:
		if body != "cross-node" {
			t.Fatalf("body = %q, want cross-node", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("node B never received the message sent by node A")
	}
}

func TestPublishReachesBothLocalAndRemote(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()

	nodeA := newTestNode(t, reg, mem)
	nodeB := newTestNode(t, reg, mem)

	var mu sync.Mutex
	var gotA, gotB bool
	done := make(chan struct{}, 2)

	nodeA.Handle(context.Background(), "fanout", func(ctx context.Context, msg clusterbus.Message) error {
		mu.Lock()
		gotA = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	nodeB.Handle(context.Background(), "fanout", func(ctx context.Context, msg clusterbus.Message) error {
		mu.Lock()
		gotB = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	if err := nodeA.Publish(context.Background(), "fanout", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publish did not reach both handlers")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !gotA || !gotB {
		t.Fatalf("gotA=%v gotB=%v, want both true", gotA, gotB)
	}
}

func TestReplyRoutesBackToSender(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()

	nodeA := newTestNode(t, reg, mem)
	nodeB := newTestNode(t, reg, mem)

	nodeB.Handle(context.Background(), "echo", func(ctx context.Context, msg clusterbus.Message) error {
		return msg.Reply(ctx, append([]byte("echo:"), msg.Body...))
	})

	replyCh := make(chan string, 1)
	err := nodeA.Send(context.Background(), "echo", []byte("ping"),
		clusterbus.WithReplyTo(func(ctx context.Context, msg clusterbus.Message) error {
			replyCh <- string(msg.Body)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case body := <-replyCh:
		if body != "echo:ping" {
			t.Fatalf("reply = %q, want echo:ping", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply never arrived")
	}
}

func TestHandleCloseRemovesSubscription(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()
	node := newTestNode(t, reg, mem)

	sub, err := node.Handle(context.Background(), "temp", func(ctx context.Context, msg clusterbus.Message) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := sub.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err = node.Send(context.Background(), "temp", []byte("x"))
	if err != clusterbus.ErrLookupFailed {
		t.Fatalf("Send after Close = %v, want ErrLookupFailed", err)
	}
}

func TestLocalOnlyHandlerNeverAdvertised(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()
	node := newTestNode(t, reg, mem)

	_, err := node.Handle(context.Background(), "internal.only", func(ctx context.Context, msg clusterbus.Message) error {
		return nil
	}, clusterbus.WithLocalOnly())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	holders, err := reg.Get(context.Background(), "internal.only")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(holders) != 0 {
		t.Fatalf("registry holders for a local-only address = %v, want empty", holders)
	}

	// A local send still reaches it directly.
	if err := node.Send(context.Background(), "internal.only", []byte("x")); err != nil {
		t.Fatalf("Send to local-only handler failed: %v", err)
	}
}

func TestMultipleLocalHandlersShareOneRegistryEntry(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()
	node := newTestNode(t, reg, mem)

	sub1, err := node.Handle(context.Background(), "shared", func(ctx context.Context, msg clusterbus.Message) error { return nil })
	if err != nil {
		t.Fatalf("Handle 1: %v", err)
	}
	sub2, err := node.Handle(context.Background(), "shared", func(ctx context.Context, msg clusterbus.Message) error { return nil })
	if err != nil {
		t.Fatalf("Handle 2: %v", err)
	}

	if holders, _ := reg.Get(context.Background(), "shared"); len(holders) != 1 {
		t.Fatalf("registry holders after two local Handle calls = %v, want exactly one entry", holders)
	}

	if err := sub1.Close(context.Background()); err != nil {
		t.Fatalf("Close 1: %v", err)
	}
	if holders, _ := reg.Get(context.Background(), "shared"); len(holders) != 1 {
		t.Fatalf("registry holders after closing one of two handlers = %v, want the entry to remain", holders)
	}

	if err := sub2.Close(context.Background()); err != nil {
		t.Fatalf("Close 2: %v", err)
	}
	if holders, _ := reg.Get(context.Background(), "shared"); len(holders) != 0 {
		t.Fatalf("registry holders after closing the last handler = %v, want empty", holders)
	}
}

func TestReplyAddressNeverAppearsInRegistry(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()

	nodeA := newTestNode(t, reg, mem)
	nodeB := newTestNode(t, reg, mem)

	var seenReplyAddr string
	nodeB.Handle(context.Background(), "echo2", func(ctx context.Context, msg clusterbus.Message) error {
		seenReplyAddr = msg.ReplyAddress
		return msg.Reply(ctx, msg.Body)
	})

	replyCh := make(chan struct{}, 1)
	err := nodeA.Send(context.Background(), "echo2", []byte("ping"),
		clusterbus.WithReplyTo(func(ctx context.Context, msg clusterbus.Message) error {
			replyCh <- struct{}{}
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-replyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("reply never arrived")
	}

	if seenReplyAddr == "" {
		t.Fatal("handler on node B never observed a reply address")
	}
	holders, err := reg.Get(context.Background(), seenReplyAddr)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(holders) != 0 {
		t.Fatalf("reply address %q appeared in the registry: %v", seenReplyAddr, holders)
	}
}
