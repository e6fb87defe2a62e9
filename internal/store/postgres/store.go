// Package postgres provides a PostgreSQL-backed store.Store.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//
//	u, err := s.CreateUser(ctx, "alice", hash)
//	_, err = s.SaveSummary(ctx, u.ID, "Caller claimed to be from the bank…")
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scamguard/internal/store"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// Store implements store.Store on a pgx connection pool.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// CreateUser implements store.Store.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (store.User, error) {
	const q = `
		INSERT INTO users (username, password)
		VALUES ($1, $2)
		RETURNING id, username, password, created_at`

	u, err := scanUser(s.pool.QueryRow(ctx, q, username, passwordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.User{}, store.ErrUserExists
		}
		return store.User{}, fmt.Errorf("postgres store: create user: %w", err)
	}
	return u, nil
}

// UserByName implements store.Store.
func (s *Store) UserByName(ctx context.Context, username string) (store.User, error) {
	const q = `
		SELECT id, username, password, created_at
		FROM   users
		WHERE  username = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("postgres store: user by name: %w", err)
	}
	return u, nil
}

// SaveSummary implements store.Store.
func (s *Store) SaveSummary(ctx context.Context, userID int64, text string) (store.Summary, error) {
	const q = `
		INSERT INTO conversation_summaries (user_id, summary)
		VALUES ($1, $2)
		RETURNING id, user_id, summary, created_at`

	var sum store.Summary
	err := s.pool.QueryRow(ctx, q, userID, text).Scan(&sum.ID, &sum.UserID, &sum.Text, &sum.CreatedAt)
	if err != nil {
		return store.Summary{}, fmt.Errorf("postgres store: save summary: %w", err)
	}
	return sum, nil
}

// Summaries implements store.Store.
func (s *Store) Summaries(ctx context.Context, userID int64) ([]store.Summary, error) {
	const q = `
		SELECT id, user_id, summary, created_at
		FROM   conversation_summaries
		WHERE  user_id = $1
		ORDER  BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: summaries: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Summary, error) {
		var sum store.Summary
		err := row.Scan(&sum.ID, &sum.UserID, &sum.Text, &sum.CreatedAt)
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan summaries: %w", err)
	}
	if out == nil {
		out = []store.Summary{}
	}
	return out, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanUser(row pgx.Row) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

var _ store.Store = (*Store)(nil)
