package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) *Service {
	t.Helper()

	s, err := NewService(Config{
		Secret:     testSecret,
		Issuer:     "authcore-test",
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return s
}

func testSubject() Subject {
	return Subject{UserID: "u1", Email: "a@b.com", IsActive: true}
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService(Config{Secret: []byte("short")}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	s := newTestService(t)

	access, err := s.IssueAccess(testSubject())
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	claims, err := s.Verify(access, TypeAccess)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@b.com" || !claims.IsActive {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.TokenType != TypeAccess {
		t.Fatalf("expected type access, got %q", claims.TokenType)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil || claims.ID == "" {
		t.Fatal("expected exp, iat, and jti to be set")
	}
}

func TestTypeConfusionAlwaysFails(t *testing.T) {
	s := newTestService(t)

	access, err := s.IssueAccess(testSubject())
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	refresh, err := s.IssueRefresh(testSubject())
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	if _, err := s.Verify(access, TypeRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token verified as refresh: %v", err)
	}
	if _, err := s.Verify(refresh, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token verified as access: %v", err)
	}
}

func TestExpiredTokenFailsWithSameError(t *testing.T) {
	s := newTestService(t)

	expired, err := s.issue(testSubject(), TypeAccess, -time.Minute)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := s.Verify(expired, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTamperedTokenFails(t *testing.T) {
	s := newTestService(t)

	access, err := s.IssueAccess(testSubject())
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	tampered := access[:len(access)-2] + "xx"
	if _, err := s.Verify(tampered, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestWrongIssuerFails(t *testing.T) {
	s := newTestService(t)

	other, err := NewService(Config{
		Secret:    testSecret,
		Issuer:    "someone-else",
		AccessTTL: time.Minute,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	foreign, err := other.IssueAccess(testSubject())
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	if _, err := s.Verify(foreign, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}
}

func TestRefreshMintsNewAccessWithoutRotation(t *testing.T) {
	s := newTestService(t)

	refresh, err := s.IssueRefresh(testSubject())
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	access, err := s.Refresh(refresh)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	claims, err := s.Verify(access, TypeAccess)
	if err != nil {
		t.Fatalf("Verify of refreshed access failed: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("expected same subject, got %q", claims.Subject)
	}

	// The refresh token is not rotated: it keeps working until its expiry.
	if _, err := s.Refresh(refresh); err != nil {
		t.Fatalf("expected refresh token to stay valid, got %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	s := newTestService(t)

	access, err := s.IssueAccess(testSubject())
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	if _, err := s.Refresh(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken refreshing with access token, got %v", err)
	}
}

func TestVerifyRejectsUnsignedAlgorithm(t *testing.T) {
	s := newTestService(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "authcore-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token failed: %v", err)
	}

	if _, err := s.Verify(raw, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg=none, got %v", err)
	}
}
