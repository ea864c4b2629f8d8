package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"mostrador/backend/internal/domain"
)

const pendingKey = "mostrador:weborders:pending"

type RedisWebOrderCache struct {
	client *redis.Client
}

func NewRedisWebOrderCache(addr string, password string, db int) *RedisWebOrderCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisWebOrderCache{client: client}
}

// Client exposes the connection so other Redis-backed components can share it.
func (c *RedisWebOrderCache) Client() *redis.Client {
	return c.client
}

func (c *RedisWebOrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisWebOrderCache) Close() error {
	return c.client.Close()
}

func (c *RedisWebOrderCache) GetPending(ctx context.Context) ([]domain.Order, bool, error) {
	val, err := c.client.Get(ctx, pendingKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var orders []domain.Order
	if err := json.Unmarshal(val, &orders); err != nil {
		return nil, false, err
	}
	return orders, true, nil
}

func (c *RedisWebOrderCache) SetPending(ctx context.Context, orders []domain.Order, ttl time.Duration) error {
	if orders == nil {
		orders = []domain.Order{}
	}
	payload, err := json.Marshal(orders)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pendingKey, payload, ttl).Err()
}

func (c *RedisWebOrderCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, pendingKey).Err()
}
