package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, ""), mr
}

func TestRevokeThenIsRevoked(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.Revoke(ctx, "jti-1", "logout", time.Minute))

	revoked, err = s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, mr.Exists("blacklist:jti-1"))
}

func TestRevokeIsIdempotentAndRefreshesMetadata(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "jti-1", "logout", time.Minute))
	require.NoError(t, s.Revoke(ctx, "jti-1", "forced_logout", time.Hour))

	entry, err := s.Lookup(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "forced_logout", entry.Reason)
	assert.Equal(t, time.Hour, mr.TTL("blacklist:jti-1"))
	assert.False(t, entry.InsertedAt.IsZero())
}

func TestRevokeAppliesMinimumTTL(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Revoke(context.Background(), "jti-1", "logout", 0))
	assert.Equal(t, MinTTL, mr.TTL("blacklist:jti-1"))
}

func TestEntryExpiresWithTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Revoke(ctx, "jti-1", "logout", 2*time.Second))

	mr.FastForward(3 * time.Second)

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
	_, err = s.Lookup(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReasonSeparatorIsEscaped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Revoke(ctx, "jti-1", "a|b", time.Minute))

	entry, err := s.Lookup(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "a_b", entry.Reason)
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	err := s.Revoke(context.Background(), "jti-1", "logout", time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = s.IsRevoked(context.Background(), "jti-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("garbage"), HashToken("garbage"))
	assert.NotEqual(t, HashToken("a"), HashToken("b"))
	assert.Contains(t, HashToken("a"), "sha256:")
}
