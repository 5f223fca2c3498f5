// Package otp issues and verifies single-use one-time codes stored in Redis.
// One active challenge exists per email; issuing again overwrites it.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cobalthq/authcore/internal/mailer"
)

const keyPrefix = "otp:"

var (
	// ErrChallengeNotFound indicates no active challenge: never issued,
	// expired, or already consumed.
	ErrChallengeNotFound = errors.New("one-time code not found or expired")
	// ErrCodeMismatch indicates the challenge exists but the code is wrong.
	// The stored challenge is retained so the user may retry until expiry.
	ErrCodeMismatch = errors.New("one-time code mismatch")
	// ErrUnavailable indicates the challenge backend is unreachable.
	// Verification fails closed on this error.
	ErrUnavailable = errors.New("one-time code backend unavailable")
)

// Config holds challenge tuning parameters.
type Config struct {
	TTL    time.Duration
	Digits int
}

// Manager issues, stores, and single-use-verifies one-time codes.
type Manager struct {
	redis  redis.UniversalClient
	mail   mailer.Dispatcher
	config Config
}

// NewManager creates a Manager backed by the given Redis client. mail
// receives a fire-and-forget message for every issued code.
func NewManager(redisClient redis.UniversalClient, mail mailer.Dispatcher, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Digits < 6 || cfg.Digits > 10 {
		cfg.Digits = 6
	}
	return &Manager{redis: redisClient, mail: mail, config: cfg}
}

func key(email string) string {
	return keyPrefix + email
}

// Issue generates a fresh code, stores it under the email with the
// configured TTL (invalidating any prior challenge), and dispatches the
// outbound mail message. The code is returned for delivery layers that
// bypass mail; callers must not expose it to the requester.
func (m *Manager) Issue(ctx context.Context, email string) (string, error) {
	code, err := NewCode(m.config.Digits)
	if err != nil {
		return "", err
	}

	if err := m.redis.Set(ctx, key(email), code, m.config.TTL).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m.mail.Dispatch(ctx, mailer.Message{
		ToEmail:          email,
		OTPCode:          code,
		ExpiresInMinutes: int(m.config.TTL / time.Minute),
	})

	return code, nil
}

// Verify checks code against the stored challenge. A mismatch keeps the
// challenge in place; a match deletes it, so success is observable at most
// once per issued code.
func (m *Manager) Verify(ctx context.Context, email, code string) error {
	stored, err := m.redis.Get(ctx, key(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrChallengeNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrCodeMismatch
	}

	if err := m.redis.Del(ctx, key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// NewCode returns a cryptographically random numeric code.
func NewCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}
