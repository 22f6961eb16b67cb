package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the snapshot cache with a shared redis instance so several
// dashboard processes in front of one backend see the same last-known
// payloads.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func redisKey(deviceID, kind string) string {
	return "dashboard:snapshot:" + deviceID + ":" + kind
}

func (r *Redis) Set(ctx context.Context, deviceID, kind string, payload []byte) error {
	return r.rdb.Set(ctx, redisKey(deviceID, kind), payload, r.ttl).Err()
}

func (r *Redis) Get(ctx context.Context, deviceID, kind string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, redisKey(deviceID, kind)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (r *Redis) Delete(ctx context.Context, deviceID string) error {
	iter := r.rdb.Scan(ctx, 0, redisKey(deviceID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
