package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewManager(rdb, 30*time.Minute), mr
}

func TestIssueProducesHexTokenWithTTL(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars for a 256-bit token, got %d", len(token))
	}

	ttl := mr.TTL("verification_token:a@b.com")
	if ttl <= 0 || ttl > 30*time.Minute {
		t.Fatalf("expected token TTL within 30m, got %v", ttl)
	}
}

func TestConsumeSucceedsExactlyOnce(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if err := m.Consume(ctx, "a@b.com", token); err != nil {
		t.Fatalf("first Consume failed: %v", err)
	}
	if err := m.Consume(ctx, "a@b.com", token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on second Consume, got %v", err)
	}
}

func TestConsumeMismatch(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if err := m.Consume(ctx, "a@b.com", "deadbeef"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong token, got %v", err)
	}

	// Unlike the one-time code, a wrong consume does not destroy the token,
	// but only the exact token value can ever consume it.
	if err := m.Consume(ctx, "a@b.com", token); err != nil {
		t.Fatalf("expected matching token to consume, got %v", err)
	}
}

func TestReissueOverwritesPriorToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Issue(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("first Issue failed: %v", err)
	}
	second, err := m.Issue(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("second Issue failed: %v", err)
	}

	if err := m.Consume(ctx, "a@b.com", first); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected first token to be invalidated, got %v", err)
	}
	if err := m.Consume(ctx, "a@b.com", second); err != nil {
		t.Fatalf("expected second token to consume, got %v", err)
	}
}

func TestConsumeAfterExpiry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	mr.FastForward(30*time.Minute + time.Second)

	if err := m.Consume(ctx, "a@b.com", token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after expiry, got %v", err)
	}
}

func TestConsumeFailsClosedWhenBackendDown(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	mr.Close()

	if err := m.Consume(ctx, "a@b.com", token); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable with backend down, got %v", err)
	}
}
