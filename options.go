package clusterbus

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/rbaliyan/clusterbus/payload"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	clusterHost string
	clusterPort int
	publicHost  string
	publicPort  int

	registry   Registry
	membership Membership
	codec      payload.Codec
	logger     *slog.Logger

	keepalive    time.Duration
	pingTimeout  time.Duration
	pendingLimit int

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func defaultOptions() *options {
	return &options{
		clusterHost:    "0.0.0.0",
		clusterPort:    0,
		codec:          payload.Default(),
		logger:         slog.Default(),
		keepalive:      20 * time.Second,
		pingTimeout:    45 * time.Second,
		pendingLimit:   1024,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
}

// Option configures a Node at construction time.
type Option func(*options)

// WithClusterHost sets the host the peer listener binds to. Defaults to
// "0.0.0.0".
func WithClusterHost(host string) Option {
	return func(o *options) { o.clusterHost = host }
}

// WithClusterPort sets the port the peer listener binds to. A value of 0
// (the default) asks the kernel for an ephemeral port.
func WithClusterPort(port int) Option {
	return func(o *options) { o.clusterPort = port }
}

// WithClusterPublicHost overrides the host other nodes should use when
// dialing back to this node, for deployments where the bind address
// differs from the externally reachable one (NAT, container networking).
// Defaults to the bind host.
func WithClusterPublicHost(host string) Option {
	return func(o *options) { o.publicHost = host }
}

// WithClusterPublicPort overrides the port other nodes should use when
// dialing back to this node. Defaults to the bound port.
func WithClusterPublicPort(port int) Option {
	return func(o *options) { o.publicPort = port }
}

// WithRegistry sets the subscription registry backend. Required: New
// returns an error if no registry is configured.
func WithRegistry(r Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMembership sets the cluster membership backend. Required: New
// returns an error if no membership backend is configured.
func WithMembership(m Membership) Option {
	return func(o *options) { o.membership = m }
}

// WithCodec sets the body codec used for outgoing messages when the
// caller doesn't specify one per-call. Defaults to JSON.
func WithCodec(c payload.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger overrides the logger the node and its components log
// through. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKeepaliveInterval sets how often an idle connection holder pings
// its peer. Defaults to 20s.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(o *options) { o.keepalive = d }
}

// WithPingTimeout sets how long a connection holder waits for a PONG
// before declaring the connection dead and closing for good; the next
// send to that peer creates a fresh holder. Defaults to 45s.
func WithPingTimeout(d time.Duration) Option {
	return func(o *options) { o.pingTimeout = d }
}

// WithPendingQueueLimit bounds how many envelopes a connection holder
// buffers while disconnected, dropping the oldest once full. Defaults to
// 1024.
func WithPendingQueueLimit(n int) Option {
	return func(o *options) { o.pendingLimit = n }
}

// WithMeterProvider overrides the OTel MeterProvider used for metrics.
// Defaults to the global provider.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = p }
}

// WithTracerProvider overrides the OTel TracerProvider used for
// publish/route spans. Defaults to the global provider.
func WithTracerProvider(p trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = p }
}

func newOptions(opts ...Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	applyEnvOverrides(o)
	if o.publicHost == "" {
		o.publicHost = o.clusterHost
	}
	return o
}

// applyEnvOverrides reads the public address override once at startup,
// the equivalent of the original's Java system properties for
// environments where the bind and advertised addresses differ.
func applyEnvOverrides(o *options) {
	if h := os.Getenv("CLUSTERBUS_PUBLIC_HOST"); h != "" {
		o.publicHost = h
	}
	if p := os.Getenv("CLUSTERBUS_PUBLIC_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			o.publicPort = n
		}
	}
}
