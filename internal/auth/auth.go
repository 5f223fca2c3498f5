// Package auth coordinates the account-security components into the login,
// send-OTP, verify-OTP, change-password, and token-refresh use cases.
//
// Failure semantics: validation failures come back as typed errors and are
// audited; no flow retries on its own. Fail-open versus fail-closed is
// decided per component, not here: the attempt limiter absorbs backend
// loss, while code/token verification and the lockout check propagate it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cobalthq/authcore/internal/audit"
	"github.com/cobalthq/authcore/internal/credential"
	"github.com/cobalthq/authcore/internal/lockout"
	"github.com/cobalthq/authcore/internal/otp"
	"github.com/cobalthq/authcore/internal/password"
	"github.com/cobalthq/authcore/internal/ratelimit"
	"github.com/cobalthq/authcore/internal/token"
	"github.com/cobalthq/authcore/internal/verification"
)

// Endpoint names registered with the attempt limiter.
const (
	EndpointLogin          = "login"
	EndpointOTPSend        = "otp_send"
	EndpointOTPVerify      = "otp_verify"
	EndpointPasswordChange = "password_change"
)

// LockReasonRepeatedFailures is the reason recorded when the escalation
// threshold locks an account.
const LockReasonRepeatedFailures = "repeated_failed_login_attempts"

// Client carries request metadata used for auditing.
type Client struct {
	IP        string
	UserAgent string
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Config holds orchestration policy.
type Config struct {
	// LockoutThreshold is the cumulative failed-login count that triggers
	// a temporary lock.
	LockoutThreshold int64
	// LockoutDuration is how long an escalated lock lasts.
	LockoutDuration time.Duration
}

// Orchestrator wires the account-security components together. All
// dependencies are injected; the orchestrator owns no state of its own.
type Orchestrator struct {
	users    credential.Store
	hasher   *password.Hasher
	otp      *otp.Manager
	reset    *verification.Manager
	limiter  *ratelimit.Limiter
	lockouts *lockout.Guard
	tokens   *token.Service
	audit    *audit.Log
	config   Config
	logger   *zap.Logger
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(
	users credential.Store,
	hasher *password.Hasher,
	otpManager *otp.Manager,
	reset *verification.Manager,
	limiter *ratelimit.Limiter,
	lockouts *lockout.Guard,
	tokens *token.Service,
	auditLog *audit.Log,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 10
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = time.Hour
	}
	return &Orchestrator{
		users:    users,
		hasher:   hasher,
		otp:      otpManager,
		reset:    reset,
		limiter:  limiter,
		lockouts: lockouts,
		tokens:   tokens,
		audit:    auditLog,
		config:   cfg,
		logger:   logger,
	}
}

// Login authenticates an email/password pair and issues an access and a
// refresh token. Flow: lockout check, rate check, credential lookup,
// password verify, escalate on failure, issue tokens, audit.
func (o *Orchestrator) Login(ctx context.Context, email, pass string, client Client) (*TokenPair, error) {
	locked, remaining, err := o.lockouts.IsLocked(ctx, email)
	if err != nil {
		o.auditEvent(ctx, audit.EventLogin, false, email, "", client, map[string]string{"reason": "lockout_check_failed"})
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if locked {
		o.auditEvent(ctx, audit.EventLogin, false, email, "", client, map[string]string{"reason": "account_locked"})
		return nil, &LockedError{RetryAfter: remaining}
	}

	allowed, retryAfter := o.limiter.Check(ctx, EndpointLogin, email)
	if !allowed {
		// A throttled call still counts toward escalation: the caller is
		// hammering the endpoint whether or not a password was checked.
		o.recordLoginFailure(ctx, email, client)
		o.auditEvent(ctx, audit.EventRateLimited, false, email, "", client, map[string]string{"endpoint": EndpointLogin})
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	user, err := o.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			o.recordLoginFailure(ctx, email, client)
			o.auditEvent(ctx, audit.EventLogin, false, email, "", client, map[string]string{"reason": "unknown_account"})
			return nil, ErrInvalidCredentials
		}
		o.auditEvent(ctx, audit.EventLogin, false, email, "", client, map[string]string{"reason": "credential_store_failed"})
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	ok, err := o.hasher.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		o.recordLoginFailure(ctx, email, client)
		o.auditEvent(ctx, audit.EventLogin, false, email, user.ID, client, map[string]string{"reason": "password_mismatch"})
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		o.auditEvent(ctx, audit.EventLogin, false, email, user.ID, client, map[string]string{"reason": "account_disabled"})
		return nil, ErrAccountDisabled
	}

	if _, err := o.limiter.Record(ctx, EndpointLogin, email, true); err != nil {
		o.logger.Warn("failed to reset login counter", zap.Error(err))
	}

	subject := token.Subject{UserID: user.ID, Email: user.Email, IsActive: user.IsActive}
	access, err := o.tokens.IssueAccess(subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	refresh, err := o.tokens.IssueRefresh(subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	o.auditEvent(ctx, audit.EventLogin, true, email, user.ID, client, nil)
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// recordLoginFailure increments the login counter and escalates to a
// temporary lock once the cumulative threshold is crossed. Counter loss is
// tolerated (fail open); the lock write itself is not retried.
func (o *Orchestrator) recordLoginFailure(ctx context.Context, email string, client Client) {
	count, err := o.limiter.Record(ctx, EndpointLogin, email, false)
	if err != nil {
		o.logger.Warn("failed to record login failure", zap.Error(err))
		return
	}

	if count < o.config.LockoutThreshold {
		return
	}

	if err := o.lockouts.Lock(ctx, email, o.config.LockoutDuration, LockReasonRepeatedFailures); err != nil {
		o.logger.Warn("failed to write lockout record", zap.String("email", email), zap.Error(err))
		return
	}
	o.auditEvent(ctx, audit.EventLockout, false, email, "", client, map[string]string{
		"reason":          LockReasonRepeatedFailures,
		"unlock_after":    o.config.LockoutDuration.String(),
		"failed_attempts": fmt.Sprintf("%d", count),
	})
}

// SendOTP issues a one-time code for a credential reset. The response is
// identical whether or not the account exists; only the audit trail
// records the difference.
func (o *Orchestrator) SendOTP(ctx context.Context, email string, client Client) error {
	allowed, retryAfter := o.limiter.Check(ctx, EndpointOTPSend, email)
	if !allowed {
		o.auditEvent(ctx, audit.EventRateLimited, false, email, "", client, map[string]string{"endpoint": EndpointOTPSend})
		return &RateLimitedError{RetryAfter: retryAfter}
	}

	// Every send request consumes window budget, known account or not, so
	// the limiter cannot be used to probe for accounts either.
	if _, err := o.limiter.Record(ctx, EndpointOTPSend, email, false); err != nil {
		o.logger.Warn("failed to record otp send", zap.Error(err))
	}

	if _, err := o.users.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			o.auditEvent(ctx, audit.EventOTPSend, false, email, "", client, map[string]string{"reason": "unknown_account"})
			return nil
		}
		o.auditEvent(ctx, audit.EventOTPSend, false, email, "", client, map[string]string{"reason": "credential_store_failed"})
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if _, err := o.otp.Issue(ctx, email); err != nil {
		o.auditEvent(ctx, audit.EventOTPSend, false, email, "", client, map[string]string{"reason": "challenge_store_failed"})
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	o.auditEvent(ctx, audit.EventOTPSend, true, email, "", client, nil)
	return nil
}

// VerifyOTP checks a one-time code and, on success, issues the verification
// token a subsequent password change must present.
func (o *Orchestrator) VerifyOTP(ctx context.Context, email, code string, client Client) (string, error) {
	allowed, retryAfter := o.limiter.Check(ctx, EndpointOTPVerify, email)
	if !allowed {
		o.auditEvent(ctx, audit.EventRateLimited, false, email, "", client, map[string]string{"endpoint": EndpointOTPVerify})
		return "", &RateLimitedError{RetryAfter: retryAfter}
	}

	switch err := o.otp.Verify(ctx, email, code); {
	case errors.Is(err, otp.ErrChallengeNotFound):
		o.recordFailure(ctx, EndpointOTPVerify, email)
		o.auditEvent(ctx, audit.EventOTPVerify, false, email, "", client, map[string]string{"reason": "expired_or_missing"})
		return "", ErrOTPExpired
	case errors.Is(err, otp.ErrCodeMismatch):
		o.recordFailure(ctx, EndpointOTPVerify, email)
		o.auditEvent(ctx, audit.EventOTPVerify, false, email, "", client, map[string]string{"reason": "code_mismatch"})
		return "", ErrInvalidOTP
	case err != nil:
		o.auditEvent(ctx, audit.EventOTPVerify, false, email, "", client, map[string]string{"reason": "challenge_store_failed"})
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if _, err := o.limiter.Record(ctx, EndpointOTPVerify, email, true); err != nil {
		o.logger.Warn("failed to reset otp verify counter", zap.Error(err))
	}

	resetToken, err := o.reset.Issue(ctx, email)
	if err != nil {
		o.auditEvent(ctx, audit.EventOTPVerify, false, email, "", client, map[string]string{"reason": "token_store_failed"})
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	o.auditEvent(ctx, audit.EventOTPVerify, true, email, "", client, nil)
	return resetToken, nil
}

// ChangePassword consumes the verification token and replaces the stored
// credential. The token is gone after this call whether or not the update
// itself succeeded further down.
func (o *Orchestrator) ChangePassword(ctx context.Context, email, newPassword, resetToken string, client Client) error {
	allowed, retryAfter := o.limiter.Check(ctx, EndpointPasswordChange, email)
	if !allowed {
		o.auditEvent(ctx, audit.EventRateLimited, false, email, "", client, map[string]string{"endpoint": EndpointPasswordChange})
		return &RateLimitedError{RetryAfter: retryAfter}
	}

	if err := o.reset.Consume(ctx, email, resetToken); err != nil {
		if errors.Is(err, verification.ErrTokenInvalid) {
			o.recordFailure(ctx, EndpointPasswordChange, email)
			o.auditEvent(ctx, audit.EventPasswordChange, false, email, "", client, map[string]string{"reason": "invalid_token"})
			return ErrInvalidResetToken
		}
		o.auditEvent(ctx, audit.EventPasswordChange, false, email, "", client, map[string]string{"reason": "token_store_failed"})
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	hash, err := o.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			o.auditEvent(ctx, audit.EventPasswordChange, false, email, "", client, map[string]string{"reason": "password_policy"})
			return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := o.users.UpdatePassword(ctx, email, hash); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			o.auditEvent(ctx, audit.EventPasswordChange, false, email, "", client, map[string]string{"reason": "unknown_account"})
			return ErrInvalidResetToken
		}
		o.auditEvent(ctx, audit.EventPasswordChange, false, email, "", client, map[string]string{"reason": "credential_store_failed"})
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if _, err := o.limiter.Record(ctx, EndpointPasswordChange, email, true); err != nil {
		o.logger.Warn("failed to reset password change counter", zap.Error(err))
	}

	o.auditEvent(ctx, audit.EventPasswordChange, true, email, "", client, nil)
	return nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token stays valid until its own expiry.
func (o *Orchestrator) Refresh(ctx context.Context, refreshToken string, client Client) (string, error) {
	access, err := o.tokens.Refresh(refreshToken)
	if err != nil {
		o.auditEvent(ctx, audit.EventTokenRefresh, false, "", "", client, nil)
		return "", ErrInvalidToken
	}

	o.auditEvent(ctx, audit.EventTokenRefresh, true, "", "", client, nil)
	return access, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, endpoint, email string) {
	if _, err := o.limiter.Record(ctx, endpoint, email, false); err != nil {
		o.logger.Warn("failed to record attempt", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func (o *Orchestrator) auditEvent(ctx context.Context, eventType string, success bool, email, userID string, client Client, details map[string]string) {
	o.audit.Record(ctx, audit.Event{
		EventType: eventType,
		Success:   success,
		Email:     email,
		UserID:    userID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Details:   details,
	})
}
