package clusterbus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rbaliyan/clusterbus/localbus"
	"github.com/rbaliyan/clusterbus/transport"
	"github.com/rbaliyan/clusterbus/wire"
)

// defaultRouteQueueSize bounds how many dispatches can be queued onto the
// sentinel routing goroutine before a caller blocks handing one off.
const defaultRouteQueueSize = 64

// routeRequest is one dispatch handed off to the sentinel routing
// goroutine (see Node.routeCh), carrying back its result on done.
type routeRequest struct {
	ctx  context.Context
	msg  ClusteredMessage
	done chan error
}

// runRouter is the sentinel context: the single goroutine, started once
// from start(), that every dispatch is funneled through. Running every
// registry lookup and delivery on one goroutine means two dispatches
// submitted back-to-back by the same caller are applied in submission
// order even though Go has no thread-affinity concept to hang a fairness
// guarantee on otherwise.
func (n *Node) runRouter() {
	for {
		select {
		case req := <-n.routeCh:
			req.done <- n.route(req.ctx, req.msg)
		case <-n.routeStop:
			return
		}
	}
}

// dispatch is the single entry point for every locally originated send
// or publish. It hands the message to the sentinel routing goroutine and
// waits for the result, rather than looking up and delivering on the
// calling goroutine directly, so concurrent context-less callers can't
// race their registry lookups and reorder delivery.
func (n *Node) dispatch(ctx context.Context, msg ClusteredMessage) error {
	req := routeRequest{ctx: ctx, msg: msg, done: make(chan error, 1)}
	select {
	case n.routeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.routeStop:
		return ErrNotStarted
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// route performs the actual lookup-and-deliver work for one dispatch. It
// looks up the current holders of msg.Address, then either chooses one
// (send) or fans out to all of them (publish), delivering to this node
// directly when it is itself among the holders and over the wire
// otherwise. Always run from the sentinel routing goroutine.
func (n *Node) route(ctx context.Context, msg ClusteredMessage) error {
	ctx, span := n.opts.tracerProvider.Tracer("github.com/rbaliyan/clusterbus").Start(ctx, "clusterbus.route")
	defer span.End()

	nodes, err := n.registry.Get(ctx, msg.Address)
	if err != nil {
		if n.metrics != nil {
			n.metrics.recordDrop(ctx, "registry_lookup_failed")
		}
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	if len(nodes) == 0 {
		// An empty subscriber set is equivalent to "no remote
		// subscribers": deliver locally and let the local bus discard the
		// message if nothing is registered there either. This is also how
		// a local-only handler, deliberately never advertised to the
		// registry, still receives messages addressed to it.
		if n.metrics != nil {
			if msg.IsSend {
				n.metrics.recordSend(ctx)
			} else {
				n.metrics.recordPublish(ctx, true, false)
			}
		}
		return n.deliverLocal(ctx, msg)
	}

	if msg.IsSend {
		if n.metrics != nil {
			n.metrics.recordSend(ctx)
		}
		target := n.chooseOne(nodes)
		return n.deliverTo(ctx, target, msg)
	}

	local, remote := false, false
	var firstErr error
	delivered := 0
	for _, target := range nodes {
		if target == n.public {
			local = true
		} else {
			remote = true
		}
		if err := n.deliverTo(ctx, target, msg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}
	if n.metrics != nil {
		n.metrics.recordPublish(ctx, local, remote)
	}
	if delivered == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

// chooseOne picks one address out of nodes, round-robin, fanning a
// point-to-point send out fairly across every current holder instead of
// always favoring the same one.
func (n *Node) chooseOne(nodes []wire.NodeAddress) wire.NodeAddress {
	idx := n.chooser.Partition("", len(nodes))
	return nodes[idx]
}

// deliverTo routes msg to a single holder of the address: this node's
// local bus if target is this node's own public address, or the
// connection holder for target otherwise.
func (n *Node) deliverTo(ctx context.Context, target wire.NodeAddress, msg ClusteredMessage) error {
	if target == n.public {
		return n.deliverLocal(ctx, msg)
	}

	env := wire.Envelope{
		SenderHost: n.public.Host,
		SenderPort: n.public.Port,
		Address:    msg.Address,
		ReplyAddr:  msg.ReplyAddress,
		Headers:    msg.Headers,
		Body:       msg.Body,
		CodecID:    msg.CodecID,
		IsSend:     msg.IsSend,
	}
	return n.holderFor(target).Send(ctx, env)
}

// deliverLocal hands msg to the node-local bus, never re-entering the
// cluster router. Used both for locally originated messages addressed
// to this node and for envelopes just decoded off the wire.
func (n *Node) deliverLocal(ctx context.Context, msg ClusteredMessage) error {
	out := Message{
		Address:      msg.Address,
		ReplyAddress: msg.ReplyAddress,
		Headers:      msg.Headers,
		Body:         msg.Body,
		CodecID:      msg.CodecID,
		from:         msg.Sender,
		node:         n,
	}
	if msg.IsSend {
		err := n.localBus.Send(ctx, msg.Address, out)
		if err == localbus.ErrNoHandlers {
			return ErrLookupFailed
		}
		return err
	}
	n.localBus.Publish(ctx, msg.Address, out)
	return nil
}

// holderFor returns the connection holder for target, creating and
// starting one on first use. Concurrent first uses race on creation;
// LoadOrStore resolves the race the same way incrAddrRef resolves a
// create race on Node.addrRefs, and the losing holder is closed unused.
func (n *Node) holderFor(target wire.NodeAddress) *transport.Holder {
	if v, ok := n.holders.Load(target); ok {
		return v.(*transport.Holder)
	}

	h := transport.NewHolder(target, n.public,
		transport.WithPendingLimit(n.opts.pendingLimit),
		transport.WithKeepaliveInterval(n.opts.keepalive),
		transport.WithPingTimeout(n.opts.pingTimeout),
		transport.WithOnGiveUp(func(peer wire.NodeAddress) {
			n.logger.Warn("giving up on peer, dropping holder", "peer", peer.String())
			n.holders.Delete(peer)
			if err := n.registry.RemoveAllForNode(context.Background(), peer); err != nil {
				n.logger.Warn("failed to clear subscriptions for unreachable peer", "peer", peer.String(), "error", err)
			}
		}),
	)

	actual, loaded := n.holders.LoadOrStore(target, h)
	if loaded {
		h.Close()
		return actual.(*transport.Holder)
	}
	h.Start(n.rootCtx)
	return h
}

// onPeerEnvelope is wired to transport.Server as the callback for every
// application envelope decoded off an inbound connection.
func (n *Node) onPeerEnvelope(from wire.NodeAddress, env wire.Envelope) {
	n.handleWireEnvelope(from, env)
}

func (n *Node) handleWireEnvelope(from wire.NodeAddress, env wire.Envelope) {
	msg := ClusteredMessage{
		Sender:       from,
		Address:      env.Address,
		ReplyAddress: env.ReplyAddr,
		Headers:      env.Headers,
		Body:         env.Body,
		CodecID:      env.CodecID,
		IsSend:       env.IsSend,
		FromWire:     true,
	}
	if err := n.deliverLocal(context.Background(), msg); err != nil {
		n.logger.Debug("dropped inbound message", "address", env.Address, "error", err)
	}
}

func (n *Node) onPeerError(err error) {
	n.logger.Warn("peer connection error", "error", err)
}

// Send delivers body to exactly one handler registered for address,
// chosen fairly across every node currently holding a subscription for
// it, preferring local delivery when this node is among them.
func (n *Node) Send(ctx context.Context, address string, body []byte, opts ...SendOption) error {
	if err := n.requireRunning(); err != nil {
		return err
	}
	cfg := newSendConfig(opts...)
	msg := n.newMessage(address, body, true, cfg)
	if cfg.reply != nil {
		if err := n.installReply(ctx, &msg, cfg.reply); err != nil {
			return err
		}
	}
	return n.dispatch(ctx, msg)
}

// Publish fans body out to every handler registered for address, local
// and remote.
func (n *Node) Publish(ctx context.Context, address string, body []byte, opts ...SendOption) error {
	if err := n.requireRunning(); err != nil {
		return err
	}
	cfg := newSendConfig(opts...)
	msg := n.newMessage(address, body, false, cfg)
	return n.dispatch(ctx, msg)
}

func (n *Node) newMessage(address string, body []byte, isSend bool, cfg *sendConfig) ClusteredMessage {
	codec := cfg.codec
	if codec == nil {
		codec = n.opts.codec
	}
	return ClusteredMessage{
		Sender:  n.public,
		Address: address,
		Headers: cfg.headers,
		Body:    body,
		CodecID: codec.ContentType(),
		IsSend:  isSend,
	}
}

// installReply generates an unguessable reply address and registers a
// one-shot local handler for it, then points msg at it. The address is
// never published to the registry: it is a local token good for exactly
// one delivery, routed back to this node directly by the replier (see
// sendReply), not looked up. The registration is torn down once the
// handler runs.
func (n *Node) installReply(ctx context.Context, msg *ClusteredMessage, fn HandlerFunc) error {
	replyAddr := "reply." + uuid.NewString()

	var sub interface{ Close() error }
	handler := func(ctx context.Context, reply Message) error {
		defer func() {
			if sub != nil {
				sub.Close()
			}
		}()
		return fn(ctx, reply)
	}

	s, err := n.localBus.Handle(replyAddr, handler)
	if err != nil {
		return err
	}
	sub = s

	msg.ReplyAddress = replyAddr
	return nil
}

// sendReply delivers a reply directly to target, the NodeAddress carried
// by the original message, without ever consulting the registry: reply
// addresses are one-shot local tokens, not advertised subscriptions, so
// there is nothing for a lookup to find.
func (n *Node) sendReply(ctx context.Context, target NodeAddress, replyAddress string, body []byte) error {
	msg := ClusteredMessage{
		Sender:  n.public,
		Address: replyAddress,
		Body:    body,
		CodecID: n.opts.codec.ContentType(),
		IsSend:  true,
	}
	return n.deliverTo(ctx, target, msg)
}
