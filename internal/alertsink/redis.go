package alertsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

// RedisCacheConfig configures RedisCache.
type RedisCacheConfig struct {
	TTL     time.Duration
	Recent  int64
	Channel string
}

// RedisCache keeps the latest alerts in redis and publishes each one.
//
// Keys:
//
//	surveillance:alert:{id}        alert JSON, expires after TTL
//	surveillance:alerts:recent     newest-first list of alert JSON
//	surveillance:alerts:{pattern}  newest-first list of alert ids
type RedisCache struct {
	client redis.UniversalClient
	cfg    RedisCacheConfig
}

func NewRedisCache(client redis.UniversalClient, cfg RedisCacheConfig) *RedisCache {
	if cfg.Recent <= 0 {
		cfg.Recent = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &RedisCache{client: client, cfg: cfg}
}

const recentAlertsKey = "surveillance:alerts:recent"

func alertKey(id uuid.UUID) string { return fmt.Sprintf("surveillance:alert:%s", id) }

func patternAlertsKey(pattern string) string {
	return fmt.Sprintf("surveillance:alerts:%s", pattern)
}

func (c *RedisCache) Name() string { return "redis" }

// Deliver stores and publishes the alert in one MULTI/EXEC.
func (c *RedisCache) Deliver(ctx context.Context, alert surveillance.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, alertKey(alert.ID), data, c.cfg.TTL)
		pipe.LPush(ctx, recentAlertsKey, data)
		pipe.LTrim(ctx, recentAlertsKey, 0, c.cfg.Recent-1)
		pipe.LPush(ctx, patternAlertsKey(alert.Pattern), alert.ID.String())
		pipe.LTrim(ctx, patternAlertsKey(alert.Pattern), 0, c.cfg.Recent-1)
		if c.cfg.Channel != "" {
			pipe.Publish(ctx, c.cfg.Channel, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache alert: %w", err)
	}
	return nil
}

// Get returns a cached alert, or nil when it expired or never existed.
func (c *RedisCache) Get(ctx context.Context, id uuid.UUID) (*surveillance.Alert, error) {
	data, err := c.client.Get(ctx, alertKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert from cache: %w", err)
	}
	var a surveillance.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
	}
	return &a, nil
}

// Recent returns up to n cached alerts, newest first.
func (c *RedisCache) Recent(ctx context.Context, n int64) ([]surveillance.Alert, error) {
	if n <= 0 || n > c.cfg.Recent {
		n = c.cfg.Recent
	}
	raw, err := c.client.LRange(ctx, recentAlertsKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent alerts: %w", err)
	}
	out := make([]surveillance.Alert, 0, len(raw))
	for _, r := range raw {
		var a surveillance.Alert
		if err := json.Unmarshal([]byte(r), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
