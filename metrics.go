package clusterbus

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters a Node records against. It is created once
// per Node from the configured OTel MeterProvider and can additionally
// be registered against a Prometheus registry for operators who scrape
// Prometheus directly rather than an OTel collector.
type Metrics struct {
	sendTotal    metric.Int64Counter
	publishTotal metric.Int64Counter
	dropTotal    metric.Int64Counter
	pingTimeouts metric.Int64Counter

	promSend    prometheus.Counter
	promPublish *prometheus.CounterVec
	promDrop    *prometheus.CounterVec
	promPing    prometheus.Counter
}

func newMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("github.com/rbaliyan/clusterbus")

	sendTotal, err := meter.Int64Counter("clusterbus.send.total",
		metric.WithDescription("Point-to-point sends attempted"))
	if err != nil {
		return nil, err
	}
	publishTotal, err := meter.Int64Counter("clusterbus.publish.total",
		metric.WithDescription("Publishes attempted, labelled by local/remote reach"))
	if err != nil {
		return nil, err
	}
	dropTotal, err := meter.Int64Counter("clusterbus.drop.total",
		metric.WithDescription("Messages dropped, labelled by reason"))
	if err != nil {
		return nil, err
	}
	pingTimeouts, err := meter.Int64Counter("clusterbus.holder.ping_timeout.total",
		metric.WithDescription("Connection holders closed for missing a keepalive PONG"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sendTotal:    sendTotal,
		publishTotal: publishTotal,
		dropTotal:    dropTotal,
		pingTimeouts: pingTimeouts,

		promSend: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clusterbus_send_total",
			Help: "Point-to-point sends attempted.",
		}),
		promPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterbus_publish_total",
			Help: "Publishes attempted, labelled by reach.",
		}, []string{"local", "remote"}),
		promDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterbus_drop_total",
			Help: "Messages dropped, labelled by reason.",
		}, []string{"reason"}),
		promPing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clusterbus_ping_timeout_total",
			Help: "Connection holders closed for missing a keepalive PONG.",
		}),
	}, nil
}

// Register adds this Metrics' collectors to reg, for operators scraping
// Prometheus directly instead of going through an OTel collector.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return errors.Join(
		reg.Register(m.promSend),
		reg.Register(m.promPublish),
		reg.Register(m.promDrop),
		reg.Register(m.promPing),
	)
}

func (m *Metrics) recordSend(ctx context.Context) {
	m.sendTotal.Add(ctx, 1)
	m.promSend.Inc()
}

func (m *Metrics) recordPublish(ctx context.Context, local, remote bool) {
	m.publishTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("local", local),
		attribute.Bool("remote", remote),
	))
	m.promPublish.WithLabelValues(boolLabel(local), boolLabel(remote)).Inc()
}

func (m *Metrics) recordDrop(ctx context.Context, reason string) {
	m.dropTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.promDrop.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordPingTimeout(ctx context.Context) {
	m.pingTimeouts.Add(ctx, 1)
	m.promPing.Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
