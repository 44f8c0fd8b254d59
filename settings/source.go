// Package settings reads the live security policy. Every read goes to the backing source
// so operators can change thresholds without a restart; missing or invalid values fall
// back to the Fallbacks table.
package settings

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrSourceUnavailable wraps backing store failures.
var ErrSourceUnavailable = errors.New("settings source unavailable")

// Source returns every stored policy value in one read.
type Source interface {
	Values(ctx context.Context) (map[string]string, error)
}

// RedisSource reads the policy from a Redis hash.
type RedisSource struct {
	redis redis.UniversalClient
	key   string
}

// NewRedisSource returns a source over hash key. An empty key defaults to
// "settings:security".
func NewRedisSource(client redis.UniversalClient, key string) *RedisSource {
	if key == "" {
		key = "settings:security"
	}
	return &RedisSource{redis: client, key: key}
}

// Values implements Source.
func (s *RedisSource) Values(ctx context.Context) (map[string]string, error) {
	vals, err := s.redis.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return vals, nil
}

// Set writes a single value.
func (s *RedisSource) Set(ctx context.Context, name, value string) error {
	if err := s.redis.HSet(ctx, s.key, name, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}

// MapSource is an in-memory Source.
type MapSource struct {
	mu   sync.RWMutex
	vals map[string]string
}

// NewMapSource returns a MapSource seeded with a copy of vals.
func NewMapSource(vals map[string]string) *MapSource {
	m := &MapSource{vals: map[string]string{}}
	maps.Copy(m.vals, vals)
	return m
}

// Values implements Source.
func (m *MapSource) Values(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.vals), nil
}

// Set writes a single value.
func (m *MapSource) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	m.vals[name] = value
	m.mu.Unlock()
	return nil
}
