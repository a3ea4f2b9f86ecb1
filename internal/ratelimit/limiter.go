// Package ratelimit implements a Redis fixed-window limiter for the auth endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the length of one counting window.
const DefaultWindow = time.Minute

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts hits per key in fixed windows stored in Redis.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewLimiter returns a Limiter allowing limit hits per window per key.
// A nil client or a non-positive limit returns nil; a nil Limiter allows everything.
func NewLimiter(client *redis.Client, limit int, window time.Duration) *Limiter {
	if client == nil || limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{client: client, limit: limit, window: window, prefix: "pses-auth:ratelimit:", now: time.Now}
}

// Allow records one hit for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	now := l.now()
	windowStart := now.Truncate(l.window)
	resetAt := windowStart.Add(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, windowStart.Unix())

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: resetAt}, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}

	count := int(incr.Val())
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Connect opens a Redis client for addr and verifies it with a ping.
// An empty addr returns (nil, nil) and limiting stays disabled.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: connect to redis: %w", err)
	}
	return client, nil
}
