package clusterbus

import "github.com/rbaliyan/clusterbus/payload"

type sendConfig struct {
	headers map[string]string
	codec   payload.Codec
	reply   HandlerFunc
}

// SendOption configures a single Send or Publish call.
type SendOption func(*sendConfig)

// WithHeaders attaches headers to the outgoing message.
func WithHeaders(h map[string]string) SendOption {
	return func(c *sendConfig) { c.headers = h }
}

// WithMessageCodec overrides the body codec for this call only.
func WithMessageCodec(codec payload.Codec) SendOption {
	return func(c *sendConfig) { c.codec = codec }
}

// WithReplyTo registers fn as a one-shot handler for a reply address
// generated for this call, and sets the outgoing message's reply
// address so the recipient can route a response back. The generated
// address is never advertised to the registry, and it is unregistered
// from the local bus after fn runs once.
func WithReplyTo(fn HandlerFunc) SendOption {
	return func(c *sendConfig) { c.reply = fn }
}

func newSendConfig(opts ...SendOption) *sendConfig {
	c := &sendConfig{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
