// Package ratelimit throttles repeated failed sign-ins with Redis fixed-window
// counters (INCR plus EXPIRE on the first hit).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

const keyPrefix = "gatekeeper:signin:"

// ErrUnavailable wraps Redis faults.
var ErrUnavailable = errors.New("ratelimit: redis unavailable")

// Config tunes the limiter.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// Limiter counts failed sign-ins per username.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New constructs a Limiter. A non-positive MaxAttempts disables throttling.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: client, config: cfg}
}

func (l *Limiter) enabled() bool {
	return l != nil && l.redis != nil && l.config.MaxAttempts > 0
}

// Check returns shared.ErrRateLimited once the failure budget for username
// is spent within the current window.
func (l *Limiter) Check(ctx context.Context, username string) error {
	if !l.enabled() {
		return nil
	}
	count, err := l.redis.Get(ctx, key(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(l.config.MaxAttempts) {
		return shared.ErrRateLimited
	}
	return nil
}

// Fail records one failed attempt and returns the count in the window.
func (l *Limiter) Fail(ctx context.Context, username string) (int64, error) {
	if !l.enabled() {
		return 0, nil
	}
	k := key(username)
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count, nil
}

// Reset clears the counter after a successful sign-in.
func (l *Limiter) Reset(ctx context.Context, username string) error {
	if !l.enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, key(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func key(username string) string {
	return keyPrefix + username
}
