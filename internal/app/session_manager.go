package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scamguard/internal/call"
	"github.com/MrWong99/scamguard/pkg/types"
)

// ErrShuttingDown is returned when a call connects after CloseAll.
var ErrShuttingDown = errors.New("app: server is shutting down")

// CallInfo is the public metadata of a live call session. It carries no
// transcript text.
type CallInfo struct {
	// ID is the call's unique identifier.
	ID string `json:"id"`

	// Status is idle or active.
	Status call.Status `json:"status"`

	// ConnectedAt is when the browser connected.
	ConnectedAt time.Time `json:"connected_at"`

	// StartedAt is when the current call was started, zero if never.
	StartedAt time.Time `json:"started_at,omitzero"`

	// Utterances is the transcript length.
	Utterances int `json:"utterances"`

	// Level is the latest confidence level.
	Level types.ConfidenceLevel `json:"level"`
}

// liveCall is one connected browser.
type liveCall struct {
	id          string
	ctrl        *call.Controller
	connectedAt time.Time

	// stop asks the session to close. It must not block.
	stop func()
	done chan struct{}
}

// SessionManager tracks the live call sessions of a server.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	calls  map[string]*liveCall
	closed bool
}

// NewSessionManager returns an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{calls: make(map[string]*liveCall)}
}

// add registers lc. It fails once CloseAll was called.
func (m *SessionManager) add(lc *liveCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShuttingDown
	}
	m.calls[lc.id] = lc
	return nil
}

func (m *SessionManager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, id)
}

func (m *SessionManager) closing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Count returns the number of live calls.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// List returns the live calls ordered by connection time.
func (m *SessionManager) List() []CallInfo {
	m.mu.Lock()
	calls := make([]*liveCall, 0, len(m.calls))
	for _, lc := range m.calls {
		calls = append(calls, lc)
	}
	m.mu.Unlock()

	out := make([]CallInfo, 0, len(calls))
	for _, lc := range calls {
		s := lc.ctrl.Snapshot()
		out = append(out, CallInfo{
			ID:          lc.id,
			Status:      s.Status,
			ConnectedAt: lc.connectedAt,
			StartedAt:   s.StartedAt,
			Utterances:  len(s.Transcript),
			Level:       s.Result.ConfidenceLevel,
		})
	}
	slices.SortFunc(out, func(a, b CallInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// CloseAll refuses new calls, stops every live call and waits until they
// have finished or ctx expires.
func (m *SessionManager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	calls := make([]*liveCall, 0, len(m.calls))
	for _, lc := range m.calls {
		calls = append(calls, lc)
	}
	m.mu.Unlock()

	for _, lc := range calls {
		lc.stop()
	}
	for _, lc := range calls {
		select {
		case <-lc.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
