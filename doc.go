// Package clusterbus implements a clustered, overlay event bus: a mesh of
// peer nodes that route point-to-point sends and fan-out publishes across
// the network without relying on any external broker.
//
// Each node keeps a local, in-process bus for handlers registered on that
// node (see the localbus package), and one TCP connection per peer for
// remote delivery (see the transport package). A pluggable registry tracks
// which node holds which address (see the registry package), and a
// pluggable membership backend tracks which nodes are currently part of
// the cluster (see the membership package). Messages crossing the wire are
// framed and encoded by the wire package.
//
// Delivery is best-effort. There is no acknowledgement, retransmission, or
// cross-peer ordering guarantee: a message that cannot reach its
// destination node is dropped and logged, the same way an unreachable
// host drops a UDP datagram. Within a single TCP connection, order is
// preserved; across connections or after a reconnect, it is not.
//
// Basic usage:
//
//	ctx := context.Background()
//	node, err := clusterbus.New(ctx,
//	    clusterbus.WithClusterHost("0.0.0.0"),
//	    clusterbus.WithClusterPort(7000),
//	    clusterbus.WithRegistry(registry.NewMemory()),
//	    clusterbus.WithMembership(membership.NewMemory()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close(ctx)
//
//	node.Handle(ctx, "orders.created", func(ctx context.Context, msg clusterbus.Message) error {
//	    fmt.Println(string(msg.Body))
//	    return nil
//	})
//
//	node.Publish(ctx, "orders.created", []byte(`{"id":1}`))
//
// Sending a point-to-point message routes to exactly one subscriber for
// the address, chosen fairly across the known holders; publishing fans
// out to every subscriber of the address, local and remote.
package clusterbus
