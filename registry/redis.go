package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/clusterbus"
)

// Client defines the subset of Redis commands the Redis-backed registry
// needs. *redis.Client, *redis.ClusterClient, and redis.UniversalClient
// all satisfy it.
type Client interface {
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

// defaultKeyPrefix namespaces registry keys in a shared Redis instance.
const defaultKeyPrefix = "clusterbus:subs:"

// Redis is a Registry backend shared across every node in the cluster via
// a Redis set per address, one member per "host:port" holder. This is the
// backend a real multi-node deployment uses; Memory only works within a
// single process.
type Redis struct {
	client Client
	prefix string
}

// RedisOption configures a Redis registry.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the default Redis key prefix, useful for running
// more than one cluster against the same Redis instance.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis wraps an existing Redis client. The client is not closed by
// Close; callers that own the client lifecycle close it themselves.
func NewRedis(client Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(address string) string {
	return r.prefix + address
}

func (r *Redis) Add(ctx context.Context, address string, node clusterbus.NodeAddress) error {
	if err := r.client.SAdd(ctx, r.key(address), node.String()).Err(); err != nil {
		return fmt.Errorf("%w: sadd %s: %v", clusterbus.ErrRegistryUnavailable, address, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, address string, node clusterbus.NodeAddress) (bool, error) {
	removed, err := r.client.SRem(ctx, r.key(address), node.String()).Result()
	if err != nil {
		return false, fmt.Errorf("%w: srem %s: %v", clusterbus.ErrRegistryUnavailable, address, err)
	}
	return removed > 0, nil
}

// RemoveAllForNode scans every registry key for the node's member. Redis
// has no native secondary index from node to addresses, so this costs one
// SCAN-style Keys call and one SRem per key; it is only called when a peer
// is declared dead, which is rare relative to Add/Remove/Get traffic.
func (r *Redis) RemoveAllForNode(ctx context.Context, node clusterbus.NodeAddress) error {
	keys, err := r.client.Keys(ctx, r.prefix+"*").Result()
	if err != nil {
		return fmt.Errorf("%w: keys: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	member := node.String()
	for _, key := range keys {
		if err := r.client.SRem(ctx, key, member).Err(); err != nil {
			return fmt.Errorf("%w: srem %s: %v", clusterbus.ErrRegistryUnavailable, key, err)
		}
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, address string) ([]clusterbus.NodeAddress, error) {
	members, err := r.client.SMembers(ctx, r.key(address)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: smembers %s: %v", clusterbus.ErrRegistryUnavailable, address, err)
	}
	out := make([]clusterbus.NodeAddress, 0, len(members))
	for _, m := range members {
		addr, err := clusterbus.ParseNodeAddress(m)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

func (r *Redis) Close() error { return nil }

var _ clusterbus.Registry = (*Redis)(nil)
