package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store manages API keys in Redis: an allow list of active keys plus
// revocation markers so a compromised key stays dead even if re-added.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new API key store
func NewStore(redisClient *redis.Client) *Store {
	return &Store{
		redis: redisClient,
	}
}

func activeKey(key string) string {
	return fmt.Sprintf("apikey:active:%s", key)
}

func revokedKey(key string) string {
	return fmt.Sprintf("apikey:revoked:%s", key)
}

// Add registers a key as active. Keys do not expire on their own; they are
// removed through Revoke.
func (s *Store) Add(ctx context.Context, key string) error {
	err := s.redis.Set(ctx, activeKey(key), "1", 0).Err()
	if err != nil {
		return fmt.Errorf("failed to add api key: %w", err)
	}

	return nil
}

// Revoke removes a key from the allow list and leaves a revocation marker
// for ttl so in-flight callers see an explicit revocation rather than an
// unknown key. A non-positive ttl defaults to 24h.
func (s *Store) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	if err := s.redis.Del(ctx, activeKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	if err := s.redis.Set(ctx, revokedKey(key), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark api key revoked: %w", err)
	}

	return nil
}

// IsValid reports whether the key is active and not revoked.
func (s *Store) IsValid(ctx context.Context, key string) (bool, error) {
	revoked, err := s.redis.Exists(ctx, revokedKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check api key revocation: %w", err)
	}
	if revoked > 0 {
		return false, nil
	}

	active, err := s.redis.Exists(ctx, activeKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check api key: %w", err)
	}

	return active > 0, nil
}

// Count returns the number of active keys
func (s *Store) Count(ctx context.Context) (int64, error) {
	keys, err := s.redis.Keys(ctx, "apikey:active:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count api keys: %w", err)
	}

	return int64(len(keys)), nil
}

// Seed adds every key in the list, skipping empties. Used at startup to
// load bootstrap keys from configuration.
func (s *Store) Seed(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.Add(ctx, key); err != nil {
			return err
		}
	}

	return nil
}
