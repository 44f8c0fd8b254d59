// Package blacklist records revoked token identifiers in Redis until the tokens would
// have expired on their own.
package blacklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps every Redis failure surfaced by the Store.
var ErrStoreUnavailable = errors.New("blacklist store unavailable")

// ErrNotFound is returned by Lookup when the token id is not revoked.
var ErrNotFound = errors.New("blacklist entry not found")

// MinTTL is the shortest lifetime an entry is written with.
const MinTTL = time.Second

// Entry is the stored metadata for a revoked token.
type Entry struct {
	TokenID    string
	Reason     string
	InsertedAt time.Time
	TTL        time.Duration
}

// Store is a Redis-backed token blacklist. Writes go to a single primary, so a Revoke that
// returned nil is visible to every subsequent IsRevoked on any node.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore returns a Store writing keys as "<prefix>:<tokenID>". An empty prefix
// defaults to "blacklist".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "blacklist"
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

func (s *Store) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

// Revoke marks tokenID as revoked for ttl. Repeating the call is idempotent and refreshes
// the stored reason, insertion time and TTL.
func (s *Store) Revoke(ctx context.Context, tokenID, reason string, ttl time.Duration) error {
	if tokenID == "" {
		return errors.New("blacklist: empty token id")
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}
	value := sanitizeReason(reason) + "|" + strconv.FormatInt(s.now().Unix(), 10)
	if err := s.redis.Set(ctx, s.key(tokenID), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether tokenID is currently blacklisted.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Lookup returns the stored entry for tokenID or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, tokenID string) (*Entry, error) {
	key := s.key(tokenID)

	pipe := s.redis.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	raw, err := getCmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	entry := &Entry{TokenID: tokenID}
	reason, inserted, found := strings.Cut(raw, "|")
	entry.Reason = reason
	if found {
		if unix, perr := strconv.ParseInt(inserted, 10, 64); perr == nil {
			entry.InsertedAt = time.Unix(unix, 0)
		}
	}
	if ttl, terr := ttlCmd.Result(); terr == nil && ttl > 0 {
		entry.TTL = ttl
	}
	return entry, nil
}

// HashToken returns the identifier used to blacklist a raw token whose jti cannot be read.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func sanitizeReason(reason string) string {
	reason = strings.ReplaceAll(strings.TrimSpace(reason), "|", "_")
	if reason == "" {
		return "revoked"
	}
	return reason
}
