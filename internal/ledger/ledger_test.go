package ledger

import (
	"context"
	"sync"
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
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestStoreAndIsValid(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Store(ctx, "jti-1", "user-1", time.Hour))

	valid, err := l.IsValid(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = l.IsValid(ctx, "jti-unknown")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestStoreExpiresWithTTL(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Store(ctx, "jti-1", "user-1", time.Minute))

	mr.FastForward(2 * time.Minute)

	valid, err := l.IsValid(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestRevokeIsSingleUse(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Store(ctx, "jti-1", "user-1", time.Hour))

	revoked, err := l.Revoke(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Second revocation of the same jti reports it was already gone.
	revoked, err = l.Revoke(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	valid, err := l.IsValid(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestConcurrentRevokeHasOneWinner(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Store(ctx, "jti-race", "user-1", time.Hour))

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			revoked, err := l.Revoke(ctx, "jti-race")
			if err == nil && revoked {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one revocation must win")
}

func TestRevokeAll(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Store(ctx, "jti-1", "user-1", time.Hour))
	require.NoError(t, l.Store(ctx, "jti-2", "user-1", time.Hour))
	require.NoError(t, l.Store(ctx, "jti-3", "user-2", time.Hour))

	count, err := l.RevokeAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, jti := range []string{"jti-1", "jti-2"} {
		valid, err := l.IsValid(ctx, jti)
		require.NoError(t, err)
		assert.False(t, valid, jti)
	}

	// The other subject's token is untouched.
	valid, err := l.IsValid(ctx, "jti-3")
	require.NoError(t, err)
	assert.True(t, valid)

	count, err = l.RevokeAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUnavailableStore(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Store(ctx, "jti-1", "user-1", time.Hour))
	mr.Close()

	_, err := l.IsValid(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = l.Revoke(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, l.Store(ctx, "jti-2", "user-1", time.Hour), ErrUnavailable)
	assert.ErrorIs(t, l.Ping(ctx), ErrUnavailable)
}
