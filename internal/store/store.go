// Package store defines persistence for user accounts and the conversation
// summaries saved for them.
//
// Two implementations exist: [postgres] for deployments and [memstore] for
// tests and database-less development runs.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserExists is returned by CreateUser when the username is taken.
	ErrUserExists = errors.New("store: user exists")

	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("store: not found")
)

// User is a registered account. PasswordHash holds a bcrypt hash.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Summary is one saved conversation summary.
type Summary struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Text      string    `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists users and summaries. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateUser inserts a new user. It returns ErrUserExists when username is
	// already registered.
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)

	// UserByName returns the user registered as username, or ErrNotFound.
	UserByName(ctx context.Context, username string) (User, error)

	// SaveSummary stores text for userID.
	SaveSummary(ctx context.Context, userID int64, text string) (Summary, error)

	// Summaries returns every summary of userID, newest first. It returns an
	// empty, non-nil slice when there are none.
	Summaries(ctx context.Context, userID int64) ([]Summary, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close()
}
