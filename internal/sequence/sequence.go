// Package sequence hands out monotonic counters for order, session and
// transaction numbers.
package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mostrador/backend/internal/store"
)

type Generator interface {
	Next(ctx context.Context, tx store.Tx, name string) (int64, error)
}

// StoreGenerator increments the counter row inside the caller's transaction.
type StoreGenerator struct{}

func (StoreGenerator) Next(ctx context.Context, tx store.Tx, name string) (int64, error) {
	return tx.NextSequence(ctx, name)
}

// nextScript bumps the counter to at least the floor before incrementing, so
// a flushed Redis never reissues a number the database already holds.
var nextScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if floor > current then
  current = floor
end
current = current + 1
redis.call("SET", KEYS[1], current)
return current
`)

// RedisGenerator shares counters across server instances through Redis and
// mirrors each value into the store so it survives a Redis reset.
type RedisGenerator struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisGenerator(client redis.UniversalClient) *RedisGenerator {
	return &RedisGenerator{client: client, prefix: "mostrador:seq:"}
}

func (g *RedisGenerator) Next(ctx context.Context, tx store.Tx, name string) (int64, error) {
	floor, err := tx.CurrentSequence(ctx, name)
	if err != nil {
		return 0, err
	}
	value, err := nextScript.Run(ctx, g.client, []string{g.prefix + name}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", name, err)
	}
	if err := tx.BumpSequence(ctx, name, value); err != nil {
		return 0, err
	}
	return value, nil
}
