package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authd/blacklist"
)

type failingRevoker struct{ calls int }

func (f *failingRevoker) Revoke(context.Context, string, string, time.Duration) error {
	f.calls++
	return errors.New("redis down")
}

func newTestRegistry(t *testing.T, revoker TokenRevoker) (*Registry, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRegistry(rdb, revoker), mr, rdb
}

func newActivity(id, userID string, created time.Time) *Activity {
	return &Activity{
		ID:              id,
		UserID:          userID,
		Username:        "alice",
		UserType:        "member",
		TokenID:         "access-" + id,
		RefreshTokenID:  "refresh-" + id,
		DeviceID:        "dev",
		ClientIP:        "10.0.0.1",
		UserAgent:       "test",
		CreatedAt:       created,
		LastSeenAt:      created,
		AccessExpiresAt: time.Now().Add(time.Hour),
		ExpiresAt:       time.Now().Add(24 * time.Hour),
	}
}

func TestRecordWritesRecordIndexAndSweepEntry(t *testing.T) {
	r, mr, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, newActivity("a1", "u1", time.Now())))

	assert.True(t, mr.Exists("activity:a1"))
	members, err := mr.Members("activity-index:u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, members)
	_, err = mr.ZScore("activity-expiry", "u1|a1")
	require.NoError(t, err)
	assert.Greater(t, mr.TTL("activity:a1"), 24*time.Hour)
	assert.Greater(t, mr.TTL("activity-index:u1"), 24*time.Hour)

	got, err := r.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, "access-a1", got.TokenID)
}

func TestRecordRejectsExpiredActivity(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	a := newActivity("a1", "u1", time.Now())
	a.ExpiresAt = time.Now().Add(-time.Second)
	assert.Error(t, r.Record(context.Background(), a))
}

func TestListForUserOrdersByCreationAndDropsDangling(t *testing.T) {
	r, mr, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, r.Record(ctx, newActivity("late", "u1", base.Add(time.Minute))))
	require.NoError(t, r.Record(ctx, newActivity("early", "u1", base)))
	require.NoError(t, r.Record(ctx, newActivity("gone", "u1", base)))
	mr.Del("activity:gone")

	list, err := r.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "late", list[1].ID)

	ok, err := mr.SIsMember("activity-index:u1", "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := r.ActiveSessionCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	online, err := r.IsOnline(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r, mr, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	require.NoError(t, r.Record(ctx, newActivity("a1", "u1", time.Now())))

	existed, err := r.Remove(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.False(t, mr.Exists("activity:a1"))
	assert.False(t, mr.Exists("activity-expiry"))

	existed, err = r.Remove(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = r.Get(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchUpdatesLastSeenAndKeepsTTL(t *testing.T) {
	r, mr, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)
	require.NoError(t, r.Record(ctx, newActivity("a1", "u1", created)))
	before := mr.TTL("activity:a1")

	require.NoError(t, r.Touch(ctx, "a1"))

	got, err := r.Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.After(created))
	assert.True(t, got.CreatedAt.Equal(time.UnixMilli(created.UnixMilli())))
	assert.InDelta(t, float64(before), float64(mr.TTL("activity:a1")), float64(time.Second))

	assert.ErrorIs(t, r.Touch(ctx, "missing"), ErrNotFound)
}

func TestUpdateTokensRotatesIDsAndExtendsLifetime(t *testing.T) {
	r, mr, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	require.NoError(t, r.Record(ctx, newActivity("a1", "u1", time.Now())))

	newExpiry := time.Now().Add(48 * time.Hour)
	got, err := r.UpdateTokens(ctx, "a1", TokenUpdate{
		TokenID:         "access-2",
		RefreshTokenID:  "refresh-2",
		AccessExpiresAt: time.Now().Add(2 * time.Hour),
		ExpiresAt:       newExpiry,
		ClientIP:        "10.0.0.9",
	})
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.TokenID)
	assert.Equal(t, "refresh-2", got.RefreshTokenID)
	assert.Equal(t, "10.0.0.9", got.ClientIP)
	assert.Equal(t, "test", got.UserAgent)

	assert.Greater(t, mr.TTL("activity:a1"), 47*time.Hour)
	assert.Greater(t, mr.TTL("activity-index:u1"), 47*time.Hour)
	score, err := mr.ZScore("activity-expiry", "u1|a1")
	require.NoError(t, err)
	assert.Equal(t, float64(newExpiry.Unix()), score)

	_, err = r.UpdateTokens(ctx, "missing", TokenUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForceLogoutUserRevokesEveryToken(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	bl := blacklist.NewStore(rdb, "")
	r := NewRegistry(rdb, bl)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Record(ctx, newActivity(fmt.Sprintf("a%d", i), "u1", time.Now())))
	}
	require.NoError(t, r.Record(ctx, newActivity("other", "u2", time.Now())))

	n, err := r.ForceLogoutUser(ctx, "u1", "forced_logout")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := r.ActiveSessionCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)

	for i := 0; i < 3; i++ {
		for _, jti := range []string{fmt.Sprintf("access-a%d", i), fmt.Sprintf("refresh-a%d", i)} {
			revoked, err := bl.IsRevoked(ctx, jti)
			require.NoError(t, err)
			assert.True(t, revoked, jti)
		}
	}

	entry, err := bl.Lookup(ctx, "access-a0")
	require.NoError(t, err)
	assert.Equal(t, "forced_logout", entry.Reason)

	count, err = r.ActiveSessionCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err = r.ForceLogoutUser(ctx, "u1", "forced_logout")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForceLogoutContinuesWhenRevokeFails(t *testing.T) {
	rev := &failingRevoker{}
	r, mr, _ := newTestRegistry(t, rev)
	ctx := context.Background()
	require.NoError(t, r.Record(ctx, newActivity("a1", "u1", time.Now())))

	ok, err := r.ForceLogoutSession(ctx, "a1", "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, rev.calls)
	assert.False(t, mr.Exists("activity:a1"))

	ok, err = r.ForceLogoutSession(ctx, "a1", "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvictOldestKeepsNewest(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Record(ctx, newActivity(fmt.Sprintf("a%d", i), "u1", base.Add(time.Duration(i)*time.Minute))))
	}

	n, err := r.EvictOldest(ctx, "u1", 1, "session_limit")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := r.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a3", list[0].ID)
}

func TestCleanupExpiredRemovesOnlyExpired(t *testing.T) {
	r, mr, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	short := newActivity("short", "u1", time.Now())
	short.ExpiresAt = time.Now().Add(time.Minute)
	require.NoError(t, r.Record(ctx, short))
	require.NoError(t, r.Record(ctx, newActivity("long", "u1", time.Now())))

	n, err := r.CleanupExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("activity:short"))
	assert.True(t, mr.Exists("activity:long"))

	ok, err := mr.SIsMember("activity-index:u1", "short")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = r.CleanupExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupExpiredDropsIndexForVanishedRecords(t *testing.T) {
	r, mr, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	a := newActivity("a1", "u1", time.Now())
	a.ExpiresAt = time.Now().Add(time.Minute)
	require.NoError(t, r.Record(ctx, a))
	mr.Del("activity:a1")

	n, err := r.CleanupExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("activity-expiry"))
	assert.False(t, mr.Exists("activity-index:u1"))
}

func TestRegistryReportsUnavailableStore(t *testing.T) {
	r, mr, _ := newTestRegistry(t, nil)
	mr.Close()
	_, err := r.ListForUser(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, r.Ping(context.Background()), ErrStoreUnavailable)
}
