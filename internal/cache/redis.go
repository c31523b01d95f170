package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	entryPrefix   = "browserpilot:cache:"
	requestPrefix = "browserpilot:req:"
)

// RedisStore backs the response cache with Redis so multiple processes (or
// repeated test runs) can share one deterministic cache.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client. ttl <= 0 means entries do not
// expire.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, entryPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, fingerprint, requestID string, value []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryPrefix+fingerprint, value, s.expiry())
	if requestID != "" {
		pipe.SAdd(ctx, requestPrefix+requestID, fingerprint)
		if s.ttl > 0 {
			pipe.Expire(ctx, requestPrefix+requestID, s.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) PurgeRequest(ctx context.Context, requestID string) error {
	fps, err := s.client.SMembers(ctx, requestPrefix+requestID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(fps)+1)
	for _, fp := range fps {
		keys = append(keys, entryPrefix+fp)
	}
	keys = append(keys, requestPrefix+requestID)
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) expiry() time.Duration {
	if s.ttl > 0 {
		return s.ttl
	}
	return 0
}
