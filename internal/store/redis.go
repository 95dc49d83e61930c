package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/session"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Repository on Redis. Each session is one JSON
// value whose TTL is refreshed on every save, so expiry is handled by Redis.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedis creates a Redis-backed repository. A zero ttl disables expiry.
func NewRedis(opts *redis.Options, namespace string, ttl time.Duration) (*RedisStore, error) {
	if namespace == "" {
		return nil, errors.New("redis namespace cannot be empty")
	}
	return &RedisStore{rdb: redis.NewClient(opts), namespace: namespace, ttl: ttl}, nil
}

func (s *RedisStore) key(sessionKey string) string {
	return s.namespace + ":session:" + sessionKey
}

// GetSession retrieves a session by key.
func (s *RedisStore) GetSession(ctx context.Context, key string) (*session.Session, error) {
	data, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session from redis: %w", err)
	}

	var out session.Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	out.Normalize("")
	return &out, nil
}

// SaveSession writes the session and refreshes its TTL.
func (s *RedisStore) SaveSession(ctx context.Context, sess *session.Session) error {
	stored := *sess
	stored.UpdatedAt = time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(sess.Key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write session to redis: %w", err)
	}
	return nil
}

// DeleteSession removes a session.
func (s *RedisStore) DeleteSession(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete session from redis: %w", err)
	}
	return nil
}

// CleanupExpiredSessions is a no-op: Redis expires keys itself.
func (s *RedisStore) CleanupExpiredSessions(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
