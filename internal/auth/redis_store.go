package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionKey     = "session"
	redisPendingCodeKey = "pending_code"
)

// RedisStore persists session state in Redis, for deployments where the
// console runs on a host without durable local storage. Keys are namespaced
// by prefix so several instances can share one Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore with the default "panicdesk:auth:" prefix.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "panicdesk:auth:"}
}

// NewRedisStoreWithPrefix creates a RedisStore with a custom key prefix.
func NewRedisStoreWithPrefix(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Load returns the persisted session. A missing key or corrupt value reads
// as no session; corrupt values are removed so they cannot recur.
func (s *RedisStore) Load(ctx context.Context) (*StoredSession, error) {
	data, err := s.client.Get(ctx, s.prefix+redisSessionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session StoredSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		_ = s.client.Del(ctx, s.prefix+redisSessionKey).Err()
		return nil, nil
	}
	return &session, nil
}

// Save persists the session. No Redis TTL is set; expiry is governed by the
// token's own derived expiry so the manager can report Expired distinctly.
func (s *RedisStore) Save(ctx context.Context, session StoredSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+redisSessionKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Clear removes the persisted session. The pending code key is untouched so
// a stashed code remains available after the session is discarded.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.prefix+redisSessionKey).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// SavePendingCode stashes an authorization code.
func (s *RedisStore) SavePendingCode(ctx context.Context, code string) error {
	if err := s.client.Set(ctx, s.prefix+redisPendingCodeKey, code, 0).Err(); err != nil {
		return fmt.Errorf("redis set pending code: %w", err)
	}
	return nil
}

// TakePendingCode atomically returns and removes the stashed code.
func (s *RedisStore) TakePendingCode(ctx context.Context) (string, error) {
	code, err := s.client.GetDel(ctx, s.prefix+redisPendingCodeKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis getdel pending code: %w", err)
	}
	return code, nil
}
