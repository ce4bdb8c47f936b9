package rmt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

const redisKeyPrefix = "rmt:buffer:"

// RedisStore keeps working-memory buffers in Redis with native TTL expiry.
// Useful when buffers are hot and the database round-trip matters.
type RedisStore struct {
	client *redis.Client
	logger *observability.Logger
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed working-memory store.
func NewRedisStore(client *redis.Client, logger *observability.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) SetBuffer(ctx context.Context, threadID string, slots map[string]string, ttl time.Duration) error {
	if threadID == "" {
		return memerr.New(memerr.KindValidation, "empty thread_id")
	}
	if slots == nil {
		slots = map[string]string{}
	}

	now := s.now()
	buf := models.RMTBuffer{ThreadID: threadID, Slots: slots, UpdatedAt: now}
	if ttl > 0 {
		expires := now.Add(ttl)
		buf.ExpiresAt = &expires
	}

	raw, err := json.Marshal(buf)
	if err != nil {
		return memerr.Wrap(memerr.KindStore, err, "encode buffer")
	}
	if err := s.client.Set(ctx, redisKeyPrefix+threadID, raw, ttl).Err(); err != nil {
		return memerr.Transient(memerr.KindStore, err, "set buffer")
	}
	return nil
}

func (s *RedisStore) GetBuffer(ctx context.Context, threadID string) (*models.RMTBuffer, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+threadID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, memerr.Transient(memerr.KindStore, err, "get buffer")
	}

	buf := &models.RMTBuffer{}
	if err := json.Unmarshal(raw, buf); err != nil {
		return nil, false, memerr.Wrap(memerr.KindStore, err, "decode buffer")
	}
	return buf, true, nil
}

func (s *RedisStore) DeleteBuffer(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+threadID).Err(); err != nil {
		return memerr.Transient(memerr.KindStore, err, "delete buffer")
	}
	return nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]*models.RMTBuffer, error) {
	var out []*models.RMTBuffer
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			return nil, memerr.Transient(memerr.KindStore, err, "list buffers")
		}
		buf := &models.RMTBuffer{}
		if err := json.Unmarshal(raw, buf); err != nil {
			return nil, memerr.Wrap(memerr.KindStore, err, "decode buffer")
		}
		out = append(out, buf)
	}
	if err := iter.Err(); err != nil {
		return nil, memerr.Transient(memerr.KindStore, err, "scan buffers")
	}
	return out, nil
}

// Sweep is a no-op: Redis expires keys natively.
func (s *RedisStore) Sweep(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return memerr.Transient(memerr.KindStore, err, "redis ping")
	}
	return nil
}
