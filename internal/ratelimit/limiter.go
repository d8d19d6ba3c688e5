// Package ratelimit provides Redis-backed fixed-window request counters
// and a separate consecutive-failure lockout guard. Counters are keyed
// by a hashed identifier so raw phone numbers and emails never appear
// as store keys. Store outages surface as ErrUnavailable; the caller
// decides whether to fail open or closed.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable indicates the backing store is unreachable.
var ErrUnavailable = errors.New("rate limit store unavailable")

const (
	counterKeyPrefix = "rate_limit:"
	failureKeyPrefix = "failed_attempts:"
	lockoutKeyPrefix = "account_lockout:"

	lockoutThreshold = 5
	failureWindow    = 15 * time.Minute
	lockoutDuration  = 30 * time.Minute
)

// RateLimitedError reports that the window budget is spent and when the
// caller may retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", int(e.RetryAfter.Seconds()))
}

// LockedError reports a consecutive-failure lockout and its remaining duration.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("locked out, retry in %ds", int(e.RetryAfter.Seconds()))
}

// Limiter enforces windowed request limits and failure lockouts.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a Limiter backed by the given Redis client.
func New(client redis.UniversalClient) *Limiter {
	return &Limiter{redis: client}
}

// hashIdentifier keeps raw identifiers out of store keys.
func hashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])[:16]
}

func counterKey(identifier, action string) string {
	return counterKeyPrefix + action + ":" + hashIdentifier(identifier)
}

func failureKey(identifier, action string) string {
	return failureKeyPrefix + action + ":" + hashIdentifier(identifier)
}

func lockoutKey(identifier, action string) string {
	return lockoutKeyPrefix + action + ":" + hashIdentifier(identifier)
}

// CheckAndIncrement counts the request against the (identifier, action)
// window and returns *RateLimitedError once maxAttempts is exceeded.
// Fixed-window semantics: the TTL is set on the first hit only.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identifier, action string, maxAttempts int, window time.Duration) error {
	key := counterKey(identifier, action)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if count > int64(maxAttempts) {
		retryAfter, err := l.redis.TTL(ctx, key).Result()
		if err != nil || retryAfter < 0 {
			retryAfter = window
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}

// RecordFailure counts a consecutive authentication failure. Reaching
// the threshold locks the identifier for lockoutDuration and resets the
// failure counter.
func (l *Limiter) RecordFailure(ctx context.Context, identifier, action string) (locked bool, err error) {
	key := failureKey(identifier, action)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, failureWindow).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if count >= lockoutThreshold {
		_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, lockoutKey(identifier, action), "locked", lockoutDuration)
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return true, nil
	}
	return false, nil
}

// CheckLockout returns *LockedError with the remaining duration when the
// identifier is locked, nil when it is not.
func (l *Limiter) CheckLockout(ctx context.Context, identifier, action string) error {
	key := lockoutKey(identifier, action)

	n, err := l.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return nil
	}

	retryAfter, err := l.redis.TTL(ctx, key).Result()
	if err != nil || retryAfter < 0 {
		retryAfter = lockoutDuration
	}
	return &LockedError{RetryAfter: retryAfter}
}

// ClearFailures resets the failure counter after a successful authentication.
func (l *Limiter) ClearFailures(ctx context.Context, identifier, action string) error {
	if err := l.redis.Del(ctx, failureKey(identifier, action)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
