package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pekka2000/radqa/internal/stats"
)

const statsCacheKey = "radqa:stats:report"

// RedisStatsCache хранит агрегированный отчёт в Redis с TTL.
// Инвалидируется при каждом изменении исследований или классификаций
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatsCache создаёт кэш поверх готового клиента
func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{
		client: client,
		ttl:    ttl,
	}
}

// Ping проверяет доступность Redis
func (c *RedisStatsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get возвращает закэшированный отчёт или nil при промахе
func (c *RedisStatsCache) Get(ctx context.Context) (*stats.Report, error) {
	data, err := c.client.Get(ctx, statsCacheKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stats cache: %w", err)
	}

	var report stats.Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached report: %w", err)
	}
	return &report, nil
}

// Set записывает отчёт с настроенным TTL
func (c *RedisStatsCache) Set(ctx context.Context, report *stats.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return c.client.Set(ctx, statsCacheKey, data, c.ttl).Err()
}

// Invalidate сбрасывает закэшированный отчёт
func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, statsCacheKey).Err()
}
