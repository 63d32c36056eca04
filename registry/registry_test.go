package registry

import (
	"context"
	"testing"

	"github.com/rbaliyan/clusterbus"
)

func node(port int) clusterbus.NodeAddress {
	return clusterbus.NodeAddress{Host: "127.0.0.1", Port: port}
}

func TestMemoryAddGetRemove(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	defer r.Close()

	if err := r.Add(ctx, "orders.created", node(7001)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(ctx, "orders.created", node(7002)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	holders, err := r.Get(ctx, "orders.created")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(holders) != 2 {
		t.Fatalf("Get returned %d holders, want 2", len(holders))
	}

	if found, err := r.Remove(ctx, "orders.created", node(7001)); err != nil {
		t.Fatalf("Remove: %v", err)
	} else if !found {
		t.Fatal("Remove should report found=true for an existing subscription")
	}

	if found, err := r.Remove(ctx, "orders.created", node(7001)); err != nil {
		t.Fatalf("Remove (second time): %v", err)
	} else if found {
		t.Fatal("Remove should report found=false for an already-removed subscription")
	}
	holders, err = r.Get(ctx, "orders.created")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(holders) != 1 || holders[0] != node(7002) {
		t.Fatalf("Get after Remove = %v, want [%v]", holders, node(7002))
	}
}

func TestMemoryGetUnknownAddress(t *testing.T) {
	r := NewMemory()
	defer r.Close()
	holders, err := r.Get(context.Background(), "nothing.here")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(holders) != 0 {
		t.Fatalf("Get on unknown address = %v, want empty", holders)
	}
}

func TestMemoryRemoveAllForNode(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	defer r.Close()

	victim := node(7001)
	survivor := node(7002)
	if err := r.Add(ctx, "a", victim); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(ctx, "b", victim); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(ctx, "b", survivor); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := r.RemoveAllForNode(ctx, victim); err != nil {
		t.Fatalf("RemoveAllForNode: %v", err)
	}

	if holders, _ := r.Get(ctx, "a"); len(holders) != 0 {
		t.Fatalf("Get(a) after RemoveAllForNode = %v, want empty", holders)
	}
	holders, err := r.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(holders) != 1 || holders[0] != survivor {
		t.Fatalf("Get(b) after RemoveAllForNode = %v, want [%v]", holders, survivor)
	}
}
