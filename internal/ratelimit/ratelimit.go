// Package ratelimit bounds failed attempts per (endpoint, identifier) pair
// using fixed-window Redis counters.
//
// The limiter fails open: if Redis is unreachable, Check allows the request
// and logs the failure. Callers must not treat limiter availability as a
// security boundary on its own.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "rate_limit:"

// ErrUnavailable indicates the counter backend is unreachable. Only Record
// surfaces it; Check absorbs it and allows the request.
var ErrUnavailable = errors.New("rate limit backend unavailable")

// Rule bounds attempts for one endpoint within a fixed window.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// Limiter tracks per-endpoint failure counters. Counters use atomic
// INCR with a TTL set on the first failure of a window, so a window
// expires on its own without an explicit reset.
type Limiter struct {
	redis  redis.UniversalClient
	rules  map[string]Rule
	logger *zap.Logger
}

// NewLimiter creates a Limiter with the given per-endpoint rules.
func NewLimiter(redisClient redis.UniversalClient, rules map[string]Rule, logger *zap.Logger) *Limiter {
	return &Limiter{redis: redisClient, rules: rules, logger: logger}
}

func key(endpoint, identifier string) string {
	return keyPrefix + endpoint + ":" + identifier
}

// Check reports whether another attempt is allowed and, when denied, how
// long until the window expires. Unknown endpoints and backend failures
// both resolve to allowed.
func (l *Limiter) Check(ctx context.Context, endpoint, identifier string) (bool, time.Duration) {
	rule, ok := l.rules[endpoint]
	if !ok {
		return true, 0
	}

	k := key(endpoint, identifier)
	count, err := l.redis.Get(ctx, k).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.logger.Warn("rate limit check failed open",
				zap.String("endpoint", endpoint),
				zap.Error(err))
		}
		return true, 0
	}

	if count < int64(rule.MaxAttempts) {
		return true, 0
	}

	retryAfter, err := l.redis.TTL(ctx, k).Result()
	if err != nil || retryAfter < 0 {
		retryAfter = rule.Window
	}
	return false, retryAfter
}

// Record updates the counter after an attempt: success deletes it (the
// window restarts on the next failure), failure increments it and starts
// the window on the first hit. Returns the post-increment count.
func (l *Limiter) Record(ctx context.Context, endpoint, identifier string, success bool) (int64, error) {
	rule, ok := l.rules[endpoint]
	if !ok {
		return 0, nil
	}

	k := key(endpoint, identifier)
	if success {
		if err := l.redis.Del(ctx, k).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return 0, nil
	}

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// First failure in a window carries the TTL.
	if count == 1 {
		if err := l.redis.Expire(ctx, k, rule.Window).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count, nil
}

// Failures returns the current counter for an identifier. Missing keys
// return zero.
func (l *Limiter) Failures(ctx context.Context, endpoint, identifier string) (int64, error) {
	count, err := l.redis.Get(ctx, key(endpoint, identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}
