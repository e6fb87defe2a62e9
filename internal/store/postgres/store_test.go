package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scamguard/internal/store"
	"github.com/MrWong99/scamguard/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if SCAMGUARD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SCAMGUARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCAMGUARD_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on an empty schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS conversation_summaries CASCADE",
		"DROP TABLE IF EXISTS users CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}

	s, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	newTestStore(t)
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "alice", "$2a$10$hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == 0 || u.CreatedAt.IsZero() {
		t.Errorf("user = %+v, want generated id and timestamp", u)
	}

	if _, err := s.CreateUser(ctx, "alice", "x"); !errors.Is(err, store.ErrUserExists) {
		t.Errorf("duplicate: got %v, want ErrUserExists", err)
	}

	got, err := s.UserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("UserByName: %v", err)
	}
	if got.ID != u.ID || got.PasswordHash != "$2a$10$hash" {
		t.Errorf("UserByName = %+v", got)
	}

	if _, err := s.UserByName(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown: got %v, want ErrNotFound", err)
	}
}

func TestSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice", "h")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	bob, err := s.CreateUser(ctx, "bob", "h")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	empty, err := s.Summaries(ctx, alice.ID)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("Summaries on empty = %#v, %v", empty, err)
	}

	for _, text := range []string{"first", "second"} {
		if _, err := s.SaveSummary(ctx, alice.ID, text); err != nil {
			t.Fatalf("SaveSummary: %v", err)
		}
	}
	if _, err := s.SaveSummary(ctx, bob.ID, "bob's"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	got, err := s.Summaries(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(got) != 2 || got[0].Text != "second" || got[1].Text != "first" {
		t.Errorf("Summaries = %+v, want newest first", got)
	}

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
