package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Config{MaxAttempts: max, Window: time.Minute}), mr
}

func TestLimiterBlocksAfterBudget(t *testing.T) {
	l, mr := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Check(ctx, "10.0.0.1"))
		_, err := l.Hit(ctx, "10.0.0.1")
		require.NoError(t, err)
	}
	assert.ErrorIs(t, l.Check(ctx, "10.0.0.1"), ErrRateLimited)
	assert.NoError(t, l.Check(ctx, "10.0.0.2"))
	assert.Equal(t, time.Minute, mr.TTL("login-throttle:ip:10.0.0.1"))

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, l.Check(ctx, "10.0.0.1"))
}

func TestLimiterResetClearsCounter(t *testing.T) {
	l, mr := newTestLimiter(t, 1)
	ctx := context.Background()
	_, err := l.Hit(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.ErrorIs(t, l.Check(ctx, "10.0.0.1"), ErrRateLimited)

	require.NoError(t, l.Reset(ctx, "10.0.0.1"))
	assert.False(t, mr.Exists("login-throttle:ip:10.0.0.1"))
	assert.NoError(t, l.Check(ctx, "10.0.0.1"))
}

func TestLimiterDisabled(t *testing.T) {
	l, mr := newTestLimiter(t, 0)
	ctx := context.Background()
	n, err := l.Hit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, mr.Exists("login-throttle:ip:10.0.0.1"))
	assert.NoError(t, l.Check(ctx, ""))
}

func TestLimiterUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, 3)
	mr.Close()
	assert.ErrorIs(t, l.Check(context.Background(), "10.0.0.1"), ErrRedisUnavailable)
}
