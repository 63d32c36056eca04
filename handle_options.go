package clusterbus

type handleConfig struct {
	localOnly bool
}

// HandleOption configures a single Handle call.
type HandleOption func(*handleConfig)

// WithLocalOnly keeps a handler out of the shared registry: registering
// it never advertises this node for its address, so other nodes do not
// route to this node on its account. Messages that arrive from another
// node are not filtered per handler: if this node also has an advertised
// handler for the same address, an inbound publish reaches the local-only
// handler too, and an inbound send may be given to it by the local
// round-robin choice.
func WithLocalOnly() HandleOption {
	return func(c *handleConfig) { c.localOnly = true }
}

func newHandleConfig(opts ...HandleOption) *handleConfig {
	c := &handleConfig{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
