package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const storageOpTimeout = 2 * time.Second

// FiberStorage adapts Redis to fiber.Storage so limiter counters are shared
// across instances.
type FiberStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewFiberStorage returns a storage that namespaces keys under prefix.
func NewFiberStorage(client redis.UniversalClient, prefix string) *FiberStorage {
	if prefix == "" {
		prefix = "limiter"
	}
	return &FiberStorage{client: client, prefix: prefix}
}

// Get returns nil without error for a missing key, as fiber expects.
func (s *FiberStorage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	defer cancel()
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (s *FiberStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	defer cancel()
	return s.client.Set(ctx, s.key(key), val, exp).Err()
}

func (s *FiberStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	defer cancel()
	return s.client.Del(ctx, s.key(key)).Err()
}

// Reset drops every key under the storage prefix.
func (s *FiberStorage) Reset() error {
	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	defer cancel()
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Close is a no-op; the client is owned by persistence.Redis.
func (s *FiberStorage) Close() error {
	return nil
}

func (s *FiberStorage) key(k string) string {
	return s.prefix + ":" + k
}
