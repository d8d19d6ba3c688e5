package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestCheckAndIncrementWithinBudget(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckAndIncrement(ctx, "+15551234567", "otp_request", 5, time.Hour))
	}
}

func TestCheckAndIncrementExceeded(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckAndIncrement(ctx, "+15551234567", "otp_request", 3, time.Hour))
	}

	err := l.CheckAndIncrement(ctx, "+15551234567", "otp_request", 3, time.Hour)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Greater(t, limited.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, limited.RetryAfter, time.Hour)
}

func TestWindowResets(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, l.CheckAndIncrement(ctx, "+15551234567", "otp_verify", 2, time.Minute))
	}
	err := l.CheckAndIncrement(ctx, "+15551234567", "otp_verify", 2, time.Minute)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)

	mr.FastForward(2 * time.Minute)

	require.NoError(t, l.CheckAndIncrement(ctx, "+15551234567", "otp_verify", 2, time.Minute))
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	require.NoError(t, l.CheckAndIncrement(ctx, "+15551111111", "otp_request", 1, time.Hour))
	err := l.CheckAndIncrement(ctx, "+15551111111", "otp_request", 1, time.Hour)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)

	// A different phone still has a full budget.
	require.NoError(t, l.CheckAndIncrement(ctx, "+15552222222", "otp_request", 1, time.Hour))
}

func TestLockoutAfterConsecutiveFailures(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < lockoutThreshold-1; i++ {
		locked, err := l.RecordFailure(ctx, "user@example.com", "login")
		require.NoError(t, err)
		assert.False(t, locked)
		require.NoError(t, l.CheckLockout(ctx, "user@example.com", "login"))
	}

	locked, err := l.RecordFailure(ctx, "user@example.com", "login")
	require.NoError(t, err)
	assert.True(t, locked)

	err = l.CheckLockout(ctx, "user@example.com", "login")
	var lockErr *LockedError
	require.ErrorAs(t, err, &lockErr)
	assert.Greater(t, lockErr.RetryAfter, time.Duration(0))
}

func TestLockoutExpires(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < lockoutThreshold; i++ {
		_, err := l.RecordFailure(ctx, "user@example.com", "login")
		require.NoError(t, err)
	}
	var lockErr *LockedError
	require.ErrorAs(t, l.CheckLockout(ctx, "user@example.com", "login"), &lockErr)

	mr.FastForward(lockoutDuration + time.Minute)

	require.NoError(t, l.CheckLockout(ctx, "user@example.com", "login"))
}

func TestClearFailuresResetsTheStreak(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < lockoutThreshold-1; i++ {
		_, err := l.RecordFailure(ctx, "user@example.com", "login")
		require.NoError(t, err)
	}
	require.NoError(t, l.ClearFailures(ctx, "user@example.com", "login"))

	// The next failure starts a fresh streak instead of locking.
	locked, err := l.RecordFailure(ctx, "user@example.com", "login")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestUnavailableStoreSurfaces(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	mr.Close()

	err := l.CheckAndIncrement(ctx, "+15551234567", "otp_request", 5, time.Hour)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = l.RecordFailure(ctx, "user@example.com", "login")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, l.CheckLockout(ctx, "user@example.com", "login"), ErrUnavailable)
}

func TestHashIdentifierHidesRawValue(t *testing.T) {
	key := counterKey("+15551234567", "otp_request")
	assert.NotContains(t, key, "15551234567")
	assert.Equal(t, counterKey("+15551234567", "otp_request"), key)
}
