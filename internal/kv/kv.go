// Package kv is a thin wrapper over an external KV store (Redis) exposing
// exactly the primitive operations the Subscription Registry and Cleanup
// Pipeline consume (spec §2 item 1): HSET, HDEL, HLEN, HGETALL, SADD,
// SREM, SMEMBERS, DEL. It carries no business logic of its own.
//
// Grounded on streamspace-dev-streamspace/api's internal/cache/cache.go
// for the connection-pool configuration and error-wrapping idiom.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key this service writes (spec §6).
const KeyPrefix = "parkbeat:"

// Config configures the underlying Redis client.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client is the primitive operation set the Subscription Registry and
// Cleanup Pipeline consume (spec §2 item 1). Satisfied by *Store and, in
// tests, by an in-memory double (DESIGN.md).
type Client interface {
	HSet(ctx context.Context, hashKey, field, value string) error
	HDel(ctx context.Context, hashKey string, fields ...string) error
	HLen(ctx context.Context, hashKey string) (int64, error)
	HGetAll(ctx context.Context, hashKey string) (map[string]string, error)
	SAdd(ctx context.Context, setKey string, members ...string) error
	SRem(ctx context.Context, setKey string, members ...string) error
	SMembers(ctx context.Context, setKey string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// Store is the KV Registry.
type Store struct {
	client *redis.Client
}

var _ Client = (*Store)(nil)

// New dials Redis with the same pool/timeout/retry shape streamspace's
// cache.Config uses, adapted to an addr-based DSN instead of host/port.
func New(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: ping redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewFromClient wraps an already-constructed client; used by tests against
// a local/miniredis-style instance.
func NewFromClient(c *redis.Client) *Store {
	return &Store{client: c}
}

func (s *Store) Close() error { return s.client.Close() }

func key(k string) string { return KeyPrefix + k }

// HSet sets one field of a hash.
func (s *Store) HSet(ctx context.Context, hashKey, field, value string) error {
	if err := s.client.HSet(ctx, key(hashKey), field, value).Err(); err != nil {
		return fmt.Errorf("kv: hset %s: %w", hashKey, err)
	}
	return nil
}

// HDel removes one or more fields of a hash.
func (s *Store) HDel(ctx context.Context, hashKey string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key(hashKey), fields...).Err(); err != nil {
		return fmt.Errorf("kv: hdel %s: %w", hashKey, err)
	}
	return nil
}

// HLen returns the number of fields in a hash.
func (s *Store) HLen(ctx context.Context, hashKey string) (int64, error) {
	n, err := s.client.HLen(ctx, key(hashKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: hlen %s: %w", hashKey, err)
	}
	return n, nil
}

// HGetAll returns every field/value pair of a hash.
func (s *Store) HGetAll(ctx context.Context, hashKey string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key(hashKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: hgetall %s: %w", hashKey, err)
	}
	return m, nil
}

// SAdd adds one or more members to a set.
func (s *Store) SAdd(ctx context.Context, setKey string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SAdd(ctx, key(setKey), args...).Err(); err != nil {
		return fmt.Errorf("kv: sadd %s: %w", setKey, err)
	}
	return nil
}

// SRem removes one or more members from a set.
func (s *Store) SRem(ctx context.Context, setKey string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key(setKey), args...).Err(); err != nil {
		return fmt.Errorf("kv: srem %s: %w", setKey, err)
	}
	return nil
}

// SMembers returns every member of a set.
func (s *Store) SMembers(ctx context.Context, setKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key(setKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: smembers %s: %w", setKey, err)
	}
	return members, nil
}

// Del removes one or more keys outright.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = key(k)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("kv: del: %w", err)
	}
	return nil
}
