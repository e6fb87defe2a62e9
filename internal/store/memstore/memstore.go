// Package memstore provides an in-memory store.Store.
//
// Data lives only as long as the process. The auth service falls back to it
// when no database is configured, and tests use it as a fake.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/scamguard/internal/store"
)

// Store is a concurrency-safe in-memory implementation of store.Store.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	users     map[string]store.User
	summaries map[int64][]store.Summary
	nextUser  int64
	nextSum   int64

	// PingErr, if non-nil, is returned by Ping.
	PingErr error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		now:       time.Now,
		users:     make(map[string]store.User),
		summaries: make(map[int64][]store.Summary),
	}
}

// CreateUser implements store.Store.
func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return store.User{}, store.ErrUserExists
	}
	s.nextUser++
	u := store.User{
		ID:           s.nextUser,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.users[username] = u
	return u, nil
}

// UserByName implements store.Store.
func (s *Store) UserByName(_ context.Context, username string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

// SaveSummary implements store.Store.
func (s *Store) SaveSummary(_ context.Context, userID int64, text string) (store.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSum++
	sum := store.Summary{
		ID:        s.nextSum,
		UserID:    userID,
		Text:      text,
		CreatedAt: s.now(),
	}
	s.summaries[userID] = append(s.summaries[userID], sum)
	return sum, nil
}

// Summaries implements store.Store. Summaries saved within the same clock
// tick are ordered by descending ID.
func (s *Store) Summaries(_ context.Context, userID int64) ([]store.Summary, error) {
	s.mu.RLock()
	out := slices.Clone(s.summaries[userID])
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b store.Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	if out == nil {
		out = []store.Summary{}
	}
	return out, nil
}

// Ping implements store.Store.
func (s *Store) Ping(context.Context) error { return s.PingErr }

// Close implements store.Store. It is a no-op.
func (s *Store) Close() {}

var _ store.Store = (*Store)(nil)
