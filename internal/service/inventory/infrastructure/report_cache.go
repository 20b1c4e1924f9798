// internal/service/inventory/infrastructure/report_cache.go
package infrastructure

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"stockroom/internal/pkg/logger"
	"stockroom/internal/pkg/redis"
)

const reportCacheKey = "inventory:report:snapshot"

// RedisReportCache 缓存序列化后的报表快照。缓存的是某一时刻真实存在过的
// 一致快照，短 TTL + 提交时失效，不会放大过期窗口。
// 缓存故障时报表直接回源，只记日志。
type RedisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReportCache(client *redis.Client, ttl time.Duration) *RedisReportCache {
	return &RedisReportCache{client: client, ttl: ttl}
}

func (c *RedisReportCache) Get(ctx context.Context) ([]byte, bool) {
	data, err := c.client.GetClient().Get(ctx, reportCacheKey).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Report cache read failed, falling back to store")
		}
		return nil, false
	}
	return data, true
}

func (c *RedisReportCache) Set(ctx context.Context, data []byte) {
	if err := c.client.GetClient().Set(ctx, reportCacheKey, data, c.ttl).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Report cache write failed")
	}
}

// Invalidate 在预占事务提交后调用，避免报表读到超过 TTL 的旧快照。
func (c *RedisReportCache) Invalidate(ctx context.Context) {
	if err := c.client.GetClient().Del(ctx, reportCacheKey).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Report cache invalidation failed")
	}
}
