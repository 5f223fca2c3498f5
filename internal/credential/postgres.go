package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the store uses. Satisfied by pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore reads and writes accounts in Postgres via pgx.
type PostgresStore struct {
	db DB
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

// GetByEmail fetches the account for an email address.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, password_hash, is_active
		FROM users
		WHERE email = $1`

	var u User
	err := s.db.QueryRow(ctx, query, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &u, nil
}

// UpdatePassword replaces the stored hash for an email address.
func (s *PostgresStore) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $1, updated_at = NOW()
		WHERE email = $2`

	tag, err := s.db.Exec(ctx, query, passwordHash, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
