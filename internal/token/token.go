// Package token issues and verifies signed access and refresh tokens.
// Tokens are stateless HS256 JWTs; there is no server-side revocation list,
// and refresh tokens are deliberately not rotated on use.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Token types embedded in the mandatory "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrInvalidToken is the single verification failure surfaced to callers.
// Bad signature, expiry, and wrong type are indistinguishable by design so
// the error cannot be used as an oracle.
var ErrInvalidToken = errors.New("invalid token")

// Subject identifies the account a token is issued for.
type Subject struct {
	UserID   string
	Email    string
	IsActive bool
}

// Claims is the signed claim set carried by both token types.
type Claims struct {
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Config holds signing settings.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service signs and verifies tokens with a shared HS256 secret.
type Service struct {
	config Config
	logger *zap.Logger
}

// NewService validates the signing configuration.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 30 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Service{config: cfg, logger: logger}, nil
}

// IssueAccess mints a short-lived access token.
func (s *Service) IssueAccess(sub Subject) (string, error) {
	return s.issue(sub, TypeAccess, s.config.AccessTTL)
}

// IssueRefresh mints a long-lived refresh token.
func (s *Service) IssueRefresh(sub Subject) (string, error) {
	return s.issue(sub, TypeRefresh, s.config.RefreshTTL)
}

func (s *Service) issue(sub Subject, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:     sub.Email,
		IsActive:  sub.IsActive,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			Issuer:    s.config.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// Verify checks signature, expiry, issuer, and the mandatory type claim.
// All failures collapse into ErrInvalidToken; the precise cause is only
// visible in debug logs.
func (s *Service) Verify(tokenStr, expectedType string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.config.Secret, nil
	})
	if err != nil {
		s.logger.Debug("token verification failed", zap.Error(err))
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != expectedType {
		s.logger.Debug("token type mismatch",
			zap.String("expected", expectedType),
			zap.String("got", claims.TokenType))
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Refresh verifies a refresh token and mints a fresh access token for the
// same subject. The refresh token itself stays valid until its own expiry.
func (s *Service) Refresh(refreshToken string) (string, error) {
	claims, err := s.Verify(refreshToken, TypeRefresh)
	if err != nil {
		return "", err
	}

	return s.IssueAccess(Subject{
		UserID:   claims.Subject,
		Email:    claims.Email,
		IsActive: claims.IsActive,
	})
}
