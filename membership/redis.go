package membership

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/rbaliyan/clusterbus"
)

// Client defines the subset of Redis commands the Redis-backed membership
// tracker needs.
type Client interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

const (
	defaultKeyPrefix    = "clusterbus:members:"
	defaultHeartbeatTTL = 15 * time.Second
	defaultHeartbeat    = 5 * time.Second
)

// Redis is a Membership backend that represents "this node is alive" as a
// key with a TTL, refreshed on a heartbeat interval. A node that stops
// heartbeating (crash, network partition) simply expires out of every
// other node's view within the TTL window; this mirrors the lazy-expiry
// HA key that Vert.x's cluster manager keeps for each cluster member.
type Redis struct {
	client       Client
	prefix       string
	ttl          time.Duration
	heartbeat    time.Duration
	watch        crashWatchers
	mu           sync.Mutex
	cancelJoin   context.CancelFunc
	local        clusterbus.NodeAddress
	knownAtClose map[clusterbus.NodeAddress]struct{}

	// rejoinLimiter caps how often a failed heartbeat refresh may be
	// retried, so a Redis outage doesn't turn heartbeatLoop into a busy
	// loop hammering the backend every time Set fails.
	rejoinLimiter *rate.Limiter
}

// RedisOption configures a Redis membership tracker.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the default Redis key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithHeartbeatTTL sets how long a missed heartbeat is tolerated before a
// node is considered gone by everyone else.
func WithHeartbeatTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithHeartbeatInterval sets how often the local node refreshes its key.
// It must be comfortably shorter than the TTL.
func WithHeartbeatInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.heartbeat = d }
}

// WithRejoinRateLimit overrides how fast a failed heartbeat refresh may be
// retried. Defaults to one attempt per second with a burst of one.
func WithRejoinRateLimit(limit rate.Limit, burst int) RedisOption {
	return func(r *Redis) { r.rejoinLimiter = rate.NewLimiter(limit, burst) }
}

// NewRedis wraps an existing Redis client.
func NewRedis(client Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:        client,
		prefix:        defaultKeyPrefix,
		ttl:           defaultHeartbeatTTL,
		heartbeat:     defaultHeartbeat,
		knownAtClose:  make(map[clusterbus.NodeAddress]struct{}),
		rejoinLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(node clusterbus.NodeAddress) string {
	return r.prefix + node.String()
}

// Join starts heartbeating local's key until Leave or Close is called.
func (r *Redis) Join(ctx context.Context, local clusterbus.NodeAddress) error {
	if err := r.client.Set(ctx, r.key(local), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: join: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	r.mu.Lock()
	r.local = local
	hbCtx, cancel := context.WithCancel(context.Background())
	r.cancelJoin = cancel
	r.mu.Unlock()

	go r.heartbeatLoop(hbCtx, local)
	go r.reconcileLoop(hbCtx)
	return nil
}

// reconcileLoop periodically calls Nodes, whose side effect is detecting
// and firing crash callbacks for any node that has expired out of the
// live key set since the last pass. Nothing else on this backend polls
// membership, so without this loop a crash would only surface the next
// time some caller happened to ask Nodes for the current view.
func (r *Redis) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Nodes(context.Background())
		}
	}
}

// heartbeatLoop refreshes local's liveness key on every tick. A failed
// refresh (Redis briefly unreachable) is retried immediately rather than
// waiting for the next tick, but rejoinLimiter caps how fast those retries
// can fire so a prolonged Redis outage doesn't turn into a hot retry loop
// racing the next scheduled heartbeat.
func (r *Redis) heartbeatLoop(ctx context.Context, local clusterbus.NodeAddress) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for r.client.Set(context.Background(), r.key(local), "1", r.ttl).Err() != nil {
				if err := r.rejoinLimiter.Wait(ctx); err != nil {
					break
				}
			}
		}
	}
}

func (r *Redis) Leave(ctx context.Context, local clusterbus.NodeAddress) error {
	r.mu.Lock()
	if r.cancelJoin != nil {
		r.cancelJoin()
		r.cancelJoin = nil
	}
	r.mu.Unlock()
	if err := r.client.Del(ctx, r.key(local)).Err(); err != nil {
		return fmt.Errorf("%w: leave: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	return nil
}

func (r *Redis) Nodes(ctx context.Context) ([]clusterbus.NodeAddress, error) {
	keys, err := r.client.Keys(ctx, r.prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: keys: %v", clusterbus.ErrRegistryUnavailable, err)
	}
	out := make([]clusterbus.NodeAddress, 0, len(keys))
	for _, key := range keys {
		addr, err := parseMemberKey(r.prefix, key)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	r.reconcile(out)
	return out, nil
}

// reconcile fires OnNodeCrashed for any node this tracker previously saw
// that has since expired out of the live key set.
func (r *Redis) reconcile(live []clusterbus.NodeAddress) {
	liveSet := make(map[clusterbus.NodeAddress]struct{}, len(live))
	for _, n := range live {
		liveSet[n] = struct{}{}
	}
	r.mu.Lock()
	var gone []clusterbus.NodeAddress
	for n := range r.knownAtClose {
		if _, ok := liveSet[n]; !ok {
			gone = append(gone, n)
			delete(r.knownAtClose, n)
		}
	}
	for n := range liveSet {
		r.knownAtClose[n] = struct{}{}
	}
	r.mu.Unlock()

	for _, n := range gone {
		r.watch.notify(n)
	}
}

func (r *Redis) OnNodeCrashed(fn func(clusterbus.NodeAddress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watch.add(fn)
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.cancelJoin != nil {
		r.cancelJoin()
		r.cancelJoin = nil
	}
	r.mu.Unlock()
	return nil
}

func parseMemberKey(prefix, key string) (clusterbus.NodeAddress, error) {
	return clusterbus.ParseNodeAddress(strings.TrimPrefix(key, prefix))
}

var _ clusterbus.Membership = (*Redis)(nil)
