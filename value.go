package clusterbus

import (
	"context"
	"fmt"
)

// SendValue encodes v with the node's configured codec (or the one set
// via WithMessageCodec) and sends the result exactly as Send would.
// CodecID travels with the message so the recipient's Message.Decode
// can pick the matching codec back up even if the recipient's default
// differs from the sender's.
func SendValue(ctx context.Context, n *Node, address string, v any, opts ...SendOption) error {
	cfg := newSendConfig(opts...)
	body, err := encodeValue(n, cfg, v)
	if err != nil {
		return err
	}
	return n.Send(ctx, address, body, opts...)
}

// PublishValue encodes v and publishes it exactly as Publish would.
func PublishValue(ctx context.Context, n *Node, address string, v any, opts ...SendOption) error {
	cfg := newSendConfig(opts...)
	body, err := encodeValue(n, cfg, v)
	if err != nil {
		return err
	}
	return n.Publish(ctx, address, body, opts...)
}

func encodeValue(n *Node, cfg *sendConfig, v any) ([]byte, error) {
	codec := cfg.codec
	if codec == nil {
		codec = n.opts.codec
	}
	body, err := codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("clusterbus: encode message body: %w", err)
	}
	return body, nil
}
