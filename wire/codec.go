package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// PingCodecID is the reserved codec identity that marks an envelope as a
// keepalive probe rather than an application message. PING identity is
// carried in the decoded payload's codec field, never inferred from the
// framing or from the address, so it cannot collide with a registered
// codec's content type (those are always a real MIME type).
const PingCodecID = "\x00clusterbus-ping"

// PongByte is the single byte a peer writes back immediately on receiving
// a PING, outside the length-prefixed framing used for everything else on
// the connection. An outbound holder treats any inbound byte on its
// socket as this acknowledgement without decoding it.
const PongByte byte = 0x01

// Envelope is the wire representation of a clustered message: everything
// the peer server and router need to route or reply to a message that
// crossed the network, plus the message body in its own body codec.
type Envelope struct {
	SenderHost string
	SenderPort int
	Address    string
	ReplyAddr  string
	Headers    map[string]string
	Body       []byte
	CodecID    string
	IsSend     bool
}

// IsPing reports whether the envelope is a keepalive probe rather than an
// application message. Recognised from the codec field, per the wire
// format: the PING identity never rides on the address or the framing.
func (e Envelope) IsPing() bool {
	return e.CodecID == PingCodecID
}

// Ping builds the envelope sent periodically on an idle connection to
// detect a dead peer faster than the OS-level TCP timeout would.
func Ping() Envelope {
	return Envelope{CodecID: PingCodecID}
}

// Encode serializes an envelope for transmission. The encoding is gob,
// matching the rest of the codebase's preference for registry-style
// pluggable codecs over a single hardcoded wire format for bodies, while
// keeping the envelope itself simple and dependency-free.
func Encode(e Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("wire: encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return e, nil
}
