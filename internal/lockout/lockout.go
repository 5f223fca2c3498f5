// Package lockout applies identifier-scoped temporary locks. Lock records
// live independently of attempt counters: success never clears them, only
// expiry does.
package lockout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "account_lockout:"

// ErrUnavailable indicates the lockout backend is unreachable. The lockout
// check is a security boundary, so callers fail closed on it.
var ErrUnavailable = errors.New("lockout backend unavailable")

// Record describes an active lock.
type Record struct {
	LockedAt int64  `json:"locked_at"`
	UnlockAt int64  `json:"unlock_at"`
	Reason   string `json:"reason"`
}

// Guard reads and writes lockout records in Redis.
type Guard struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewGuard creates a Guard.
func NewGuard(redisClient redis.UniversalClient) *Guard {
	return &Guard{redis: redisClient, now: time.Now}
}

func key(identifier string) string {
	return keyPrefix + identifier
}

// IsLocked reports whether the identifier is currently locked and, if so,
// how long until it unlocks. Records past their unlock time are discarded.
func (g *Guard) IsLocked(ctx context.Context, identifier string) (bool, time.Duration, error) {
	data, err := g.redis.Get(ctx, key(identifier)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// Unreadable record: drop it rather than locking forever.
		_ = g.redis.Del(ctx, key(identifier)).Err()
		return false, 0, nil
	}

	remaining := time.Unix(record.UnlockAt, 0).Sub(g.now())
	if remaining <= 0 {
		if err := g.redis.Del(ctx, key(identifier)).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return false, 0, nil
	}

	return true, remaining, nil
}

// Lock unconditionally (re)writes the lockout record for the identifier.
func (g *Guard) Lock(ctx context.Context, identifier string, duration time.Duration, reason string) error {
	now := g.now()
	record := Record{
		LockedAt: now.Unix(),
		UnlockAt: now.Add(duration).Unix(),
		Reason:   reason,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := g.redis.Set(ctx, key(identifier), data, duration).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}
