// Command clusternode boots a single clusterbus.Node and blocks until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rbaliyan/clusterbus"
	"github.com/rbaliyan/clusterbus/membership"
	"github.com/rbaliyan/clusterbus/registry"
	"github.com/rbaliyan/clusterbus/transport"
)

const healthPollInterval = 5 * time.Second

const shutdownGrace = 10 * time.Second

var (
	clusterHost       string
	clusterPort       int
	clusterPublicHost string
	clusterPublicPort int
	redisAddr         string
	metricsAddr       string
	healthAddr        string
)

var rootCmd = &cobra.Command{
	Use:   "clusternode",
	Short: "Run a node of a clustered overlay event bus",
	Long: `clusternode starts one member of a peer-to-peer event bus cluster.
Nodes discover each other's subscriptions through a shared registry and
membership backend; pass --redis-addr to run more than one node against
a shared view, or omit it to run a single standalone node for local
testing.`,
	RunE: runStart,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&clusterHost, "cluster-host", "0.0.0.0", "host the peer listener binds to")
	rootCmd.Flags().IntVar(&clusterPort, "cluster-port", 7000, "port the peer listener binds to")
	rootCmd.Flags().StringVar(&clusterPublicHost, "cluster-public-host", "", "host other nodes should dial back to (defaults to --cluster-host)")
	rootCmd.Flags().IntVar(&clusterPublicPort, "cluster-public-port", 0, "port other nodes should dial back to (defaults to the bound port)")
	rootCmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for the shared registry and membership backends; empty runs a single standalone node")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090; empty disables the metrics server")
	rootCmd.Flags().StringVar(&healthAddr, "health-addr", "", "address to serve the gRPC health-checking protocol on, e.g. :9091; empty disables the health server")
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	opts := []clusterbus.Option{
		clusterbus.WithClusterHost(clusterHost),
		clusterbus.WithClusterPort(clusterPort),
		clusterbus.WithLogger(logger),
	}
	if clusterPublicHost != "" {
		opts = append(opts, clusterbus.WithClusterPublicHost(clusterPublicHost))
	}
	if clusterPublicPort != 0 {
		opts = append(opts, clusterbus.WithClusterPublicPort(clusterPublicPort))
	}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		opts = append(opts,
			clusterbus.WithRegistry(registry.NewRedis(rdb)),
			clusterbus.WithMembership(membership.NewRedis(rdb)),
		)
	} else {
		opts = append(opts,
			clusterbus.WithRegistry(registry.NewMemory()),
			clusterbus.WithMembership(membership.NewMemory()),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := clusterbus.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	logger.Info("node listening", "address", node.Public().String())

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	var healthServer *transport.HealthServer
	if healthAddr != "" {
		healthServer, err = transport.ListenHealth(healthAddr, node, healthPollInterval)
		if err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
		logger.Info("health server listening", "address", healthServer.Addr().String())
		defer healthServer.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	return node.Close(shutdownCtx)
}

func main() {
	Execute()
}
