// Package ledger tracks which refresh-token jtis are currently valid.
// Presence of a jti key is the single source of truth: absence means the
// token is invalid regardless of its JWT signature. A per-subject set
// indexes live jtis so all tokens for a subject can be revoked at once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable indicates the backing store is unreachable.
var ErrUnavailable = errors.New("refresh ledger unavailable")

const (
	jtiKeyPrefix     = "refresh_jti:"
	subjectSetPrefix = "refresh_jtis_for_user:"
)

// revokeScript atomically deletes a jti entry and removes it from the
// owning subject's set. Returns 1 if the entry existed, 0 otherwise.
// Atomicity here is what makes refresh rotation single-use: two
// concurrent callers presenting the same jti get exactly one 1.
const revokeScript = `
local subject = redis.call("GET", KEYS[1])
if not subject then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. subject, ARGV[2])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Ledger is the Redis-backed refresh revocation ledger.
type Ledger struct {
	redis redis.UniversalClient
}

// New creates a Ledger backed by the given Redis client.
func New(client redis.UniversalClient) *Ledger {
	return &Ledger{redis: client}
}

func jtiKey(jti string) string {
	return jtiKeyPrefix + jti
}

func subjectSetKey(subject string) string {
	return subjectSetPrefix + subject
}

// Store writes jti -> subject with the token's remaining lifetime and
// adds the jti to the subject's tracking set. The set's TTL is raised to
// at least ttl so it expires once its last member would have.
func (l *Ledger) Store(ctx context.Context, jti, subject string, ttl time.Duration) error {
	setKey := subjectSetKey(subject)

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jtiKey(jti), subject, ttl)
		pipe.SAdd(ctx, setKey, jti)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	cur, err := l.redis.TTL(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if cur < ttl {
		if err := l.redis.Expire(ctx, setKey, ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// IsValid reports whether the jti is still present in the ledger.
func (l *Ledger) IsValid(ctx context.Context, jti string) (bool, error) {
	n, err := l.redis.Exists(ctx, jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Revoke atomically removes the jti entry and its set membership.
// The returned bool distinguishes "removed" from "already absent";
// revoking twice is a no-op, not an error.
func (l *Ledger) Revoke(ctx context.Context, jti string) (bool, error) {
	existed, err := revokeLua.Run(ctx, l.redis,
		[]string{jtiKey(jti)},
		subjectSetPrefix, jti,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return existed == 1, nil
}

// RevokeAll deletes every live jti for the subject plus the tracking set
// itself and returns the number revoked.
func (l *Ledger) RevokeAll(ctx context.Context, subject string) (int, error) {
	setKey := subjectSetKey(subject)

	jtis, err := l.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(jtis) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(jtis)+1)
	for _, jti := range jtis {
		keys = append(keys, jtiKey(jti))
	}
	keys = append(keys, setKey)

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return len(jtis), nil
}

// Ping returns an error when the backing store is unreachable.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
