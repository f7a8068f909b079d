package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maintrack/maintrack/internal/common/cnst"
	"github.com/maintrack/maintrack/internal/common/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// UnreadCounter caches per-principal unread notification counts in
// Redis so the websocket read-state pushes and the REST unread-count
// endpoint do not hit the relational store on every call. The store
// remains the source of truth; the cache is invalidated on every
// write that can change a count.
type UnreadCounter struct {
	logger *zap.Logger
	client redis.UniversalClient
	ttl    time.Duration
}

// NewUnreadCounter connects to Redis per the cluster configuration and
// verifies the connection with a ping.
func NewUnreadCounter(logger *zap.Logger, cfg config.RedisConfig) (*UnreadCounter, error) {
	addrs := strings.FieldsFunc(cfg.Addr, func(r rune) bool {
		return r == ',' || r == ';'
	})
	opts := &redis.UniversalOptions{
		Addrs:    addrs,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		opts.MasterName = cfg.MasterName
	}
	if cfg.ClusterType != cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		opts.DB = cfg.DB
	}
	client := redis.NewUniversalClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &UnreadCounter{
		logger: logger.Named("cache.unread"),
		client: client,
		ttl:    ttl,
	}, nil
}

func key(principalID uint) string {
	return cnst.RedisUnreadKeyPrefix + strconv.FormatUint(uint64(principalID), 10)
}

// Get returns the cached unread count. The second return reports a
// cache hit; a miss is not an error.
func (c *UnreadCounter) Get(ctx context.Context, principalID uint) (int64, bool, error) {
	val, err := c.client.Get(ctx, key(principalID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read unread counter: %w", err)
	}
	return val, true, nil
}

// Set stores the count with the configured TTL.
func (c *UnreadCounter) Set(ctx context.Context, principalID uint, count int64) {
	if err := c.client.Set(ctx, key(principalID), count, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to store unread counter",
			zap.Uint("principal_id", principalID),
			zap.Error(err))
	}
}

// Invalidate drops the cached count after a write that changes it.
func (c *UnreadCounter) Invalidate(ctx context.Context, principalID uint) {
	if err := c.client.Del(ctx, key(principalID)).Err(); err != nil {
		c.logger.Warn("failed to invalidate unread counter",
			zap.Uint("principal_id", principalID),
			zap.Error(err))
	}
}

// Close releases the Redis connection.
func (c *UnreadCounter) Close() error {
	return c.client.Close()
}
