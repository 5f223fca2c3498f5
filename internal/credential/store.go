// Package credential looks up and updates stored account credentials.
// The relational store is an external collaborator of the auth core; this
// package defines the narrow surface the flows depend on.
package credential

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no account exists for the email. Surfaced only
	// internally; reset flows must never reveal it to the caller.
	ErrNotFound = errors.New("account not found")
	// ErrUnavailable indicates the credential backend is unreachable.
	ErrUnavailable = errors.New("credential backend unavailable")
)

// User is the minimal account record the auth flows need.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
}

// Store provides credential lookup and update.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}
