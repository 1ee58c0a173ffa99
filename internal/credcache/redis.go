package credcache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func (c *redisCache) key(serverID uint) string {
	return c.prefix + ":" + strconv.FormatUint(uint64(serverID), 10)
}

func (c *redisCache) Get(ctx context.Context, serverID uint) (Artifact, bool) {
	raw, err := c.client.Get(ctx, c.key(serverID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("credential cache read failed", zap.Uint("server_id", serverID), zap.Error(err))
		}
		return Artifact{}, false
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil || a.Empty() {
		return Artifact{}, false
	}
	return a, true
}

func (c *redisCache) Put(ctx context.Context, serverID uint, artifact Artifact, ttl time.Duration) {
	if ttl <= 0 || artifact.Empty() {
		return
	}
	raw, err := json.Marshal(artifact)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(serverID), raw, ttl).Err(); err != nil {
		c.logger.Warn("credential cache write failed", zap.Uint("server_id", serverID), zap.Error(err))
	}
}

func (c *redisCache) Invalidate(ctx context.Context, serverID uint) {
	if err := c.client.Del(ctx, c.key(serverID)).Err(); err != nil {
		c.logger.Warn("credential cache invalidate failed", zap.Uint("server_id", serverID), zap.Error(err))
	}
}

// NewCache builds a Redis-backed cache and falls back to in-memory when Redis
// is not configured or not reachable. The error reports why the fallback happened.
func NewCache(addr, pass string, db int, logger *zap.Logger) (Cache, error) {
	if addr == "" {
		return NewMemory(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return NewMemory(), err
	}

	return &redisCache{
		client: client,
		prefix: "panel:cred",
		logger: logger,
	}, nil
}
