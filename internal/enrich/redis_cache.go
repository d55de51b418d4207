package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"echopay/internal/model"
)

const redisKeyPrefix = "echopay:token-meta"

// RedisMetaCache shares resolved token metadata across restarts and instances.
// A local MemoryMetaCache sits in front of Redis.
type RedisMetaCache struct {
	client  *redis.Client
	local   *MemoryMetaCache
	chainID uint64
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisMetaCache connects to addr and verifies the connection.
func NewRedisMetaCache(ctx context.Context, addr string, chainID uint64, ttl time.Duration, logger *zap.Logger) (*RedisMetaCache, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisMetaCache{
		client:  client,
		local:   NewMemoryMetaCache(),
		chainID: chainID,
		ttl:     ttl,
		logger:  logger,
	}, nil
}

func (c *RedisMetaCache) Close() error {
	return c.client.Close()
}

func (c *RedisMetaCache) key(token common.Address) string {
	return fmt.Sprintf("%s:%d:%s", redisKeyPrefix, c.chainID, strings.ToLower(token.Hex()))
}

func (c *RedisMetaCache) Get(ctx context.Context, token common.Address) (model.TokenMeta, bool) {
	if meta, ok := c.local.Get(ctx, token); ok {
		return meta, true
	}

	raw, err := c.client.Get(ctx, c.key(token)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("token meta cache read failed", zap.String("token", token.Hex()), zap.Error(err))
		}
		return model.TokenMeta{}, false
	}

	var meta model.TokenMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		c.logger.Debug("token meta cache entry invalid", zap.String("token", token.Hex()), zap.Error(err))
		return model.TokenMeta{}, false
	}
	c.local.Set(ctx, token, meta)
	return meta, true
}

func (c *RedisMetaCache) Set(ctx context.Context, token common.Address, meta model.TokenMeta) {
	c.local.Set(ctx, token, meta)

	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(token), raw, c.ttl).Err(); err != nil {
		c.logger.Debug("token meta cache write failed", zap.String("token", token.Hex()), zap.Error(err))
	}
}
