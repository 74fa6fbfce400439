package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"contxtd/internal/crypto"
)

// Store is the persistent key-value layer behind the registry. It holds
// plain string values under `{provider}_api_key` and `{provider}_base_url`
// keys and is the single source of truth for both.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// RedisStore persists registry values in redis. API key values are sealed
// with the keyring when one is configured; base URLs stay plaintext.
type RedisStore struct {
	redis   *redis.Client
	keyring *crypto.Keyring
	prefix  string
}

func NewRedisStore(rdb *redis.Client, keyring *crypto.Keyring, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "contxtd:"
	}
	return &RedisStore{redis: rdb, keyring: keyring, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := s.redis.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if s.sealed(key) {
		plain, err := s.keyring.Open(raw)
		if err != nil {
			return "", false, fmt.Errorf("open sealed value %s: %w", key, err)
		}
		return plain, true, nil
	}
	return raw, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if value == "" {
		return s.Delete(ctx, key)
	}
	if s.sealed(key) {
		sealedValue, err := s.keyring.Seal(value)
		if err != nil {
			return fmt.Errorf("seal value %s: %w", key, err)
		}
		value = sealedValue
	}
	if err := s.redis.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) sealed(key string) bool {
	return s.keyring != nil && strings.HasSuffix(key, "_api_key")
}
