package alertsink

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisKeys(t *testing.T) {
	id := uuid.MustParse("7f1d2c3b-0000-4000-8000-000000000001")
	assert.Equal(t, "surveillance:alert:7f1d2c3b-0000-4000-8000-000000000001", alertKey(id))
	assert.Equal(t, "surveillance:alerts:layering", patternAlertsKey("layering"))
}

func TestRedisCacheDefaults(t *testing.T) {
	c := NewRedisCache(nil, RedisCacheConfig{})
	assert.Equal(t, int64(1000), c.cfg.Recent)
	assert.Equal(t, 24*time.Hour, c.cfg.TTL)
}

func TestRedisCacheReportsConnectionFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewRedisCache(client, RedisCacheConfig{Channel: "surveillance:alerts"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Deliver(ctx, testAlert("wash_trading", time.Now()))
	assert.ErrorContains(t, err, "failed to cache alert")

	_, err = c.Recent(ctx, 10)
	assert.Error(t, err)
}
