package password

import (
	"errors"
	"strings"
	"testing"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()

	// Low-cost parameters keep the test fast; still above validation floors.
	h, err := NewHasher(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("expected PHC argon2id format, got %q", hash)
	}

	ok, err := h.Verify("correct horse battery", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("wrong password!", hash)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := newTestHasher(t)

	first, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := newTestHasher(t)

	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=8192,t=1,p=1$toofewparts",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		if _, err := h.Verify("whatever password", bad); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("expected ErrInvalidHash for %q, got %v", bad, err)
		}
	}
}

func TestNewHasherValidatesConfig(t *testing.T) {
	if _, err := NewHasher(Config{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatal("expected error for low memory")
	}
	if _, err := NewHasher(Config{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatal("expected error for zero time cost")
	}
	if _, err := NewHasher(Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32}); err == nil {
		t.Fatal("expected error for short salt")
	}
}
