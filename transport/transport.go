// Package transport implements the peer-to-peer half of the cluster bus:
// dialing and accepting TCP connections to other nodes, keeping them
// alive, and handing decoded envelopes to a router callback.
package transport

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult contains detailed health information for one peer
// connection or for the transport as a whole.
type HealthCheckResult struct {
	Status    HealthStatus    `json:"status"`
	Message   string          `json:"message,omitempty"`
	Latency   time.Duration   `json:"latency,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// IsHealthy reports whether the status is healthy.
func (h *HealthCheckResult) IsHealthy() bool {
	return h.Status == HealthStatusHealthy
}

// HealthChecker is implemented by anything that can report its own
// health, used by the gRPC health service wired up in cmd/clusternode.
type HealthChecker interface {
	Health(ctx context.Context) *HealthCheckResult
}

// HealthServer runs the standard gRPC health-checking protocol
// (grpc.health.v1.Health) over its own listener, polling a HealthChecker
// on an interval and reporting SERVING/NOT_SERVING accordingly. This lets
// an operator point a standard gRPC health probe (k8s readiness check,
// grpc_health_probe) at a running node without this module having to
// define or compile any of its own .proto service.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	stop       chan struct{}
}

// ListenHealth binds addr and starts serving the gRPC health protocol in
// the background, reporting checker's result under the empty service name
// (the convention grpc_health_probe uses when no --service is given).
func ListenHealth(addr string, checker HealthChecker, pollInterval time.Duration) (*HealthServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	hs := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	h := &HealthServer{grpcServer: grpcServer, health: hs, listener: ln, stop: make(chan struct{})}
	go h.pollLoop(checker, pollInterval)
	go func() {
		_ = grpcServer.Serve(ln)
	}()
	return h, nil
}

func (h *HealthServer) pollLoop(checker HealthChecker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.report(checker.Health(context.Background()))
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.report(checker.Health(context.Background()))
		}
	}
}

func (h *HealthServer) report(result *HealthCheckResult) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if result.IsHealthy() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
}

// Addr returns the address the health server is bound to.
func (h *HealthServer) Addr() net.Addr {
	return h.listener.Addr()
}

// Close stops the gRPC health server and its polling loop.
func (h *HealthServer) Close() {
	close(h.stop)
	h.grpcServer.Stop()
}

// NewID generates a random UUID string, falling back to a process-local
// counter if the random source fails.
func NewID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return strconv.FormatUint(atomic.AddUint64(&fallbackCounter, 1), 10)
}

var fallbackCounter uint64

// Logger returns a logger tagged with the given component name.
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
