package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"medislot/pkg/logger"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "medislot:idempotency:"

// RedisIdempotencyStore shares cached responses across API replicas. Expiry is left to Redis.
type RedisIdempotencyStore struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	log     *logger.Logger
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client:  client,
		ttl:     ttl,
		timeout: 2 * time.Second,
		log:     log,
	}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("Idempotency lookup failed", "error", err)
		}
		return nil, false
	}

	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.log.Warn("Discarding corrupt idempotency entry", "error", err)
		return nil, false
	}
	return &cached, true
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, response *CachedResponse) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response.CreatedAt = time.Now()
	raw, err := json.Marshal(response)
	if err != nil {
		s.log.Warn("Failed to encode idempotent response", "error", err)
		return
	}

	// SetNX keeps the first response if two replicas race on the same key.
	if err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, raw, s.ttl).Err(); err != nil {
		s.log.Warn("Failed to store idempotent response", "error", err)
	}
}

func (s *RedisIdempotencyStore) Stop() {}
