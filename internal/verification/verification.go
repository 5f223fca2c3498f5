// Package verification manages the short-lived token that proves a prior
// successful one-time code verification. The token is consumed exactly once
// by a password change and is never reissued from itself.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "verification_token:"

	tokenBytes = 32
)

var (
	// ErrTokenInvalid covers absent, expired, and mismatched tokens alike.
	ErrTokenInvalid = errors.New("verification token invalid or expired")
	// ErrUnavailable indicates the token backend is unreachable.
	// Consumption fails closed on this error.
	ErrUnavailable = errors.New("verification token backend unavailable")
)

// Manager issues and single-use-consumes verification tokens.
type Manager struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewManager creates a Manager with the given token lifetime.
func NewManager(redisClient redis.UniversalClient, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{redis: redisClient, ttl: ttl}
}

func key(email string) string {
	return keyPrefix + email
}

// Issue stores a fresh 256-bit token for the email, overwriting any prior
// token, and returns its hex encoding.
func (m *Manager) Issue(ctx context.Context, email string) (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	if err := m.redis.Set(ctx, key(email), token, m.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return token, nil
}

// Consume validates and deletes the stored token. A second call with the
// same token always fails.
func (m *Manager) Consume(ctx context.Context, email, token string) error {
	stored, err := m.redis.Get(ctx, key(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return ErrTokenInvalid
	}

	if err := m.redis.Del(ctx, key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}
