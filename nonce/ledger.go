// Package nonce implements a single-use value ledger on Redis. A value can be consumed
// exactly once within its TTL across every node sharing the store.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrReplay is returned by Consume when the value was already used.
	ErrReplay = errors.New("nonce already used")
	// ErrStoreUnavailable wraps Redis failures.
	ErrStoreUnavailable = errors.New("nonce store unavailable")
	// ErrEmpty is returned for an empty nonce value.
	ErrEmpty = errors.New("nonce is empty")
)

const minTTL = time.Second

// Ledger records consumed nonces under "<prefix>:<value>".
type Ledger struct {
	redis  redis.UniversalClient
	prefix string
}

// NewLedger returns a Ledger. An empty prefix defaults to "nonce".
func NewLedger(client redis.UniversalClient, prefix string) *Ledger {
	if prefix == "" {
		prefix = "nonce"
	}
	return &Ledger{redis: client, prefix: prefix}
}

func (l *Ledger) key(value string) string {
	return l.prefix + ":" + value
}

// Consume atomically marks value as used for ttl. Exactly one concurrent caller wins;
// the others receive ErrReplay.
func (l *Ledger) Consume(ctx context.Context, value string, ttl time.Duration) error {
	if value == "" {
		return ErrEmpty
	}
	if ttl < minTTL {
		ttl = minTTL
	}
	ok, err := l.redis.SetNX(ctx, l.key(value), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return ErrReplay
	}
	return nil
}

// Release makes a consumed value usable again. It is meant for callers that consumed
// a value and then failed before acting on it; releasing an unknown value is a no-op.
func (l *Ledger) Release(ctx context.Context, value string) error {
	if value == "" {
		return ErrEmpty
	}
	if err := l.redis.Del(ctx, l.key(value)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Seen reports whether value has been consumed and not yet expired.
func (l *Ledger) Seen(ctx context.Context, value string) (bool, error) {
	if value == "" {
		return false, ErrEmpty
	}
	n, err := l.redis.Exists(ctx, l.key(value)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Generate returns a fresh random nonce value.
func Generate() string {
	return uuid.NewString()
}
