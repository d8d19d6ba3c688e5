package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// OpenRedis connects to Redis and verifies reachability. Callers decide
// whether an unreachable Redis is fatal; a degraded deployment may still
// serve OTP flows without the revocation ledger.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Redis ping failed: %v", err)
		return client, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
