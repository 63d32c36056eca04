package clusterbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"

	"github.com/rbaliyan/clusterbus"
	"github.com/rbaliyan/clusterbus/membership"
	"github.com/rbaliyan/clusterbus/registry"
)

type orderCreated struct {
	ID    string
	Total int
}

func TestSendValueRoundTrip(t *testing.T) {
	reg := registry.NewMemory()
	mem := membership.NewMemory()
	node := newTestNode(t, reg, mem)

	received := make(chan orderCreated, 1)
	_, err := node.Handle(context.Background(), "orders.created", func(ctx context.Context, msg clusterbus.Message) error {
		var order orderCreated
		if err := msg.Decode(&order); err != nil {
			return err
		}
		received <- order
		return nil
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	want := orderCreated{ID: faker.Lorem().String(), Total: faker.RandomInt(1, 10000)}
	if err := clusterbus.SendValue(context.Background(), node, "orders.created", want); err != nil {
		t.Fatalf("SendValue: %v", err)
	}

	select {
	case got := <-received:
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("decoded order mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}
