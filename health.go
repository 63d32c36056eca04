package clusterbus

import (
	"context"
	"time"

	"github.com/rbaliyan/clusterbus/transport"
)

// Health reports this node's own liveness: healthy while RUNNING,
// unhealthy otherwise. It satisfies transport.HealthChecker so a Node can
// be wired straight into transport.ListenHealth for a standard gRPC
// health-check endpoint.
func (n *Node) Health(ctx context.Context) *transport.HealthCheckResult {
	status := transport.HealthStatusHealthy
	message := "running"
	if lifecycleState(n.lifecycle.Load()) != stateRunning {
		status = transport.HealthStatusUnhealthy
		message = lifecycleState(n.lifecycle.Load()).String()
	}

	holderCount := 0
	n.holders.Range(func(_, _ any) bool {
		holderCount++
		return true
	})

	return &transport.HealthCheckResult{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"public":  n.public.String(),
			"holders": holderCount,
		},
		CheckedAt: time.Now(),
	}
}

var _ transport.HealthChecker = (*Node)(nil)
