// Package password provides argon2id hashing and verification for stored
// credentials using the PHC string format.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB   uint32 = 8 * 1024
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
	minPassBytes         = 10
)

var (
	// ErrPasswordTooShort rejects passwords below the policy floor.
	ErrPasswordTooShort = errors.New("password must be at least 10 bytes")
	// ErrInvalidHash indicates a stored hash that cannot be parsed.
	ErrInvalidHash = errors.New("invalid password hash format")
)

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns moderate interactive-login cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords with argon2id.
type Hasher struct {
	config Config
}

// NewHasher validates the cost parameters and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < 1 {
		return nil, errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < 1 {
		return nil, errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives an argon2id hash and encodes it as a PHC string.
// Password bytes are used exactly as provided, no normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches the encoded hash.
// Comparison is constant time over the derived key.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

type parsedHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*parsedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrInvalidHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, ErrInvalidHash
	}

	var parsed parsedHash
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, ErrInvalidHash
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, ErrInvalidHash
			}
			parsed.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < 1 {
				return nil, ErrInvalidHash
			}
			parsed.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < 1 {
				return nil, ErrInvalidHash
			}
			parsed.parallelism = uint8(v)
		default:
			return nil, ErrInvalidHash
		}
	}
	if parsed.memory == 0 || parsed.time == 0 || parsed.parallelism == 0 {
		return nil, ErrInvalidHash
	}

	if parsed.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(parsed.salt) < int(minSaltLength) {
		return nil, ErrInvalidHash
	}
	if parsed.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(parsed.key) == 0 {
		return nil, ErrInvalidHash
	}

	return &parsed, nil
}
