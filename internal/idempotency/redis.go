package idempotency

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const redisKeyPrefix = "idem:"

// RedisStore keeps dedup records in Redis so several service instances share
// one window. SET NX PX provides the atomic check-and-set.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a RedisStore on top of client
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// SetIfAbsent implements Store
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, RedisKey(key), 1, ttl).Result()
}

// RedisKey maps an arbitrary-length dedup key to a fixed-length Redis key
func RedisKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return redisKeyPrefix + hex.EncodeToString(sum[:])
}
