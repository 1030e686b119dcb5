package assetcache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// wakeChannel carries hub-initiated sync nudges. Publishing anything on it
// asks every subscribed node to start a sync cycle.
const wakeChannel = "gudangsync:wake"

type RedisAssetCache struct {
	client *redis.Client
}

func NewRedisAssetCache(addr string, password string, db int) *RedisAssetCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisAssetCache{client: client}
}

func (c *RedisAssetCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisAssetCache) Close() error {
	return c.client.Close()
}

func (c *RedisAssetCache) Get(ctx context.Context, key string) (*Snapshot, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisAssetCache) Set(ctx context.Context, key string, value *Snapshot, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisAssetCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SubscribeWake calls onWake for every message published on the wake
// channel until the context ends. Run it in its own goroutine.
func (c *RedisAssetCache) SubscribeWake(ctx context.Context, logger *log.Logger, onWake func()) {
	sub := c.client.Subscribe(ctx, wakeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if logger != nil {
				logger.Printf("[assetcache] wake received")
			}
			onWake()
		}
	}
}
