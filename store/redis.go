package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores credentials in Redis under prefix:deviceID:key. It suits
// headless agents that share a token cache across processes on one host.
type Redis struct {
	redis    redis.UniversalClient
	prefix   string
	deviceID string
	ttl      time.Duration
}

// NewRedis returns a Redis store. An empty prefix defaults to "gg"; an empty
// deviceID to "default". ttl <= 0 stores keys without expiry.
func NewRedis(client redis.UniversalClient, prefix, deviceID string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "gg"
	}
	if deviceID == "" {
		deviceID = "default"
	}
	return &Redis{
		redis:    client,
		prefix:   prefix,
		deviceID: deviceID,
		ttl:      ttl,
	}
}

func (s *Redis) key(key string) string {
	return s.prefix + ":" + s.deviceID + ":" + key
}

// Get implements Store.
func (s *Redis) Get(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	v, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

// Set implements Store.
func (s *Redis) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete implements Store.
func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAll removes every key of this device in one round trip.
func (s *Redis) DeleteAll(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := validateKey(k); err != nil {
			return err
		}
		full = append(full, s.key(k))
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, full...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
