package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisStore implements the Store interface on a redis instance running
// next to the kiosk.
type redisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore creates a redis-backed store. Every key is prefixed with
// namespace so several kiosks can share one instance.
func NewRedisStore(client *redis.Client, namespace string) Store {
	return &redisStore{client: client, namespace: namespace}
}

func (s *redisStore) fullKey(key string) string {
	return s.namespace + ":" + key
}

func (s *redisStore) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %q: %w", key, err)
	}
	return value, nil
}

func (s *redisStore) SaveBlob(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.fullKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save blob %q: %w", key, err)
	}
	return nil
}

func (s *redisStore) DeleteBlob(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete blob %q: %w", key, err)
	}
	return nil
}

func (s *redisStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.fullKey(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.namespace+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list blobs with prefix %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}
