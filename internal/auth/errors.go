package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords
	// alike, so login errors cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled rejects login for deactivated accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrOTPExpired indicates no active one-time code for the email.
	ErrOTPExpired = errors.New("one-time code expired or not issued")
	// ErrInvalidOTP indicates a wrong one-time code; the challenge stays
	// valid for further attempts until it expires.
	ErrInvalidOTP = errors.New("invalid one-time code")
	// ErrInvalidResetToken indicates a missing, expired, mismatched, or
	// already-consumed password reset verification token.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	// ErrInvalidToken indicates a refresh token that failed verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrPasswordPolicy rejects new passwords below the policy floor.
	ErrPasswordPolicy = errors.New("password does not meet policy")
	// ErrBackendUnavailable indicates a fail-closed dependency outage.
	ErrBackendUnavailable = errors.New("authentication backend unavailable")
)

// LockedError reports a temporarily locked account and when it unlocks.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

// RateLimitedError reports an exhausted attempt window and when it resets.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}
