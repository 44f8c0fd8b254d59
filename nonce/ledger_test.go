package nonce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLedger(rdb, ""), mr
}

func TestConsumeOnce(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Consume(ctx, "n-1", time.Minute))
	assert.ErrorIs(t, l.Consume(ctx, "n-1", time.Minute), ErrReplay)
	assert.True(t, mr.Exists("nonce:n-1"))

	seen, err := l.Seen(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestConsumeAfterExpiry(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Consume(ctx, "n-1", 2*time.Second))
	mr.FastForward(3 * time.Second)
	assert.NoError(t, l.Consume(ctx, "n-1", time.Minute))
}

func TestConcurrentConsumeHasSingleWinner(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		replays atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := l.Consume(ctx, "shared", time.Minute); err {
			case nil:
				winners.Add(1)
			case ErrReplay:
				replays.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners.Load())
	assert.EqualValues(t, 15, replays.Load())
}

func TestEmptyValueRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.ErrorIs(t, l.Consume(context.Background(), "", time.Minute), ErrEmpty)
}

func TestGenerateIsUnique(t *testing.T) {
	assert.NotEqual(t, Generate(), Generate())
}

func TestReleaseMakesValueUsableAgain(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Consume(ctx, "n-1", time.Minute))
	require.NoError(t, l.Release(ctx, "n-1"))
	assert.False(t, mr.Exists("nonce:n-1"))
	assert.NoError(t, l.Consume(ctx, "n-1", time.Minute))

	assert.NoError(t, l.Release(ctx, "never-consumed"))
	assert.ErrorIs(t, l.Release(ctx, ""), ErrEmpty)
}
