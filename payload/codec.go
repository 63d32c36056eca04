// Package payload provides message body serialization/deserialization.
//
// It handles encoding and decoding of message bodies at the application
// level, separate from the wire envelope that carries them between
// cluster nodes. clusterbus.SendValue and Message.Decode use the codec
// registered under the body's content type to convert between Go values
// and bytes without the router caring which format a given address uses.
//
// Usage:
//
//	// Use JSON codec (default)
//	clusterbus.SendValue(ctx, node, "orders.created", order)
//
//	// Use protobuf codec
//	clusterbus.SendValue(ctx, node, "orders.created", order, clusterbus.WithMessageCodec(payload.Proto{}))
//
//	// Use msgpack codec
//	clusterbus.SendValue(ctx, node, "orders.created", order, clusterbus.WithMessageCodec(payload.MsgPack{}))
package payload

// Codec encodes/decodes event payload data.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes the payload to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes to the target type.
	// The target must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type (e.g., "application/json").
	ContentType() string
}

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}
