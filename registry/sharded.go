package registry

import (
	"context"
	"fmt"

	"github.com/rbaliyan/clusterbus"
	"github.com/rbaliyan/clusterbus/partition"
)

// ShardedRedis spreads the subscription registry across several Redis
// clients by address, so a cluster large enough to outgrow one Redis
// instance can scale the registry horizontally instead of vertically.
// Every address consistently hashes to the same shard, so Add, Remove,
// and Get for a given address always agree on which client to use;
// RemoveAllForNode still has to visit every shard, since a node's
// subscriptions are scattered across whichever addresses it handles.
type ShardedRedis struct {
	shards      []*Redis
	partitioner partition.Partitioner
}

// ShardedRedisOption configures a ShardedRedis.
type ShardedRedisOption func(*ShardedRedis)

// WithPartitioner overrides the shard-selection strategy. Defaults to
// HashPartitioner, which is the right choice for a fixed shard count;
// switch to ConsistentHashPartitioner if shards are added or removed
// while the cluster is live, to limit how many addresses get remapped.
func WithPartitioner(p partition.Partitioner) ShardedRedisOption {
	return func(s *ShardedRedis) { s.partitioner = p }
}

// NewShardedRedis builds a ShardedRedis over clients, one Redis backend
// per client. redisOpts apply to every shard identically (e.g. a shared
// WithKeyPrefix).
func NewShardedRedis(clients []Client, redisOpts []RedisOption, opts ...ShardedRedisOption) *ShardedRedis {
	shards := make([]*Redis, len(clients))
	for i, c := range clients {
		shards[i] = NewRedis(c, redisOpts...)
	}
	s := &ShardedRedis{
		shards:      shards,
		partitioner: partition.NewHashPartitioner(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ShardedRedis) shardFor(address string) *Redis {
	idx := s.partitioner.Partition(address, len(s.shards))
	return s.shards[idx]
}

func (s *ShardedRedis) Add(ctx context.Context, address string, node clusterbus.NodeAddress) error {
	return s.shardFor(address).Add(ctx, address, node)
}

func (s *ShardedRedis) Remove(ctx context.Context, address string, node clusterbus.NodeAddress) (bool, error) {
	return s.shardFor(address).Remove(ctx, address, node)
}

func (s *ShardedRedis) RemoveAllForNode(ctx context.Context, node clusterbus.NodeAddress) error {
	for i, shard := range s.shards {
		if err := shard.RemoveAllForNode(ctx, node); err != nil {
			return fmt.Errorf("shard %d: %w", i, err)
		}
	}
	return nil
}

func (s *ShardedRedis) Get(ctx context.Context, address string) ([]clusterbus.NodeAddress, error) {
	return s.shardFor(address).Get(ctx, address)
}

func (s *ShardedRedis) Close() error {
	var errs []error
	for _, shard := range s.shards {
		if err := shard.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

var _ clusterbus.Registry = (*ShardedRedis)(nil)
