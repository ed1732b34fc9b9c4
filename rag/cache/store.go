package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Store.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: miss")

// Store is the remote key-value backend of the cache layer. It must tolerate
// being entirely absent: the nop implementation always misses, so a
// deployment without redis degrades to uncached, never to an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	DeleteMany(ctx context.Context, keys []string) error
	Close() error
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", addr)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get failed")
	}
	return value, nil
}

func (s *redisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set failed")
	}
	return nil
}

// Keys lists keys under a prefix using SCAN, not KEYS, so it never blocks
// the redis server on large keyspaces.
func (s *redisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan failed")
	}
	return keys, nil
}

func (s *redisStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "redis del failed")
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

type nopStore struct{}

// NewNopStore returns a store that always misses and drops writes.
func NewNopStore() Store {
	return nopStore{}
}

func (nopStore) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (nopStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (nopStore) Keys(context.Context, string) ([]string, error) {
	return []string{}, nil
}

func (nopStore) DeleteMany(context.Context, []string) error {
	return nil
}

func (nopStore) Close() error {
	return nil
}
