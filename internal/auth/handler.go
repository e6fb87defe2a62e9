package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/store"
)

// Error messages returned in {"error": ...} bodies.
const (
	MsgMissingFields      = "Missing fields"
	MsgUserExists         = "User exists"
	MsgServerError        = "Server error"
	MsgInvalidCredentials = "Invalid credentials"
	MsgMissingSummary     = "Missing token or summary"
	MsgMissingToken       = "Missing token"
	MsgInvalidToken       = "Invalid token"
	MsgGuestNotSaving     = "Guest mode, not saving"
	MsgGuestNoSummaries   = "Guest mode, no saved summaries"
	MsgUserNotFound       = "User not found"
	MsgBodyTooLarge       = "Request body too large"
)

// maxBodyBytes bounds JSON request bodies. Summaries are the largest.
const maxBodyBytes = 64 << 10

// dummyHash is compared against when a login names an unknown user so that
// both failure paths take a bcrypt comparison.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoO5w7xRz2p5WJ3nS8Cc1n7Hq3b6F4fJwK")

// Handler serves the auth API.
type Handler struct {
	store   store.Store
	issuer  *Issuer
	cost    int
	metrics *observe.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(h *Handler) {
		if cost > 0 {
			h.cost = cost
		}
	}
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler returns a Handler backed by s issuing tokens with issuer.
func NewHandler(s store.Store, issuer *Issuer, opts ...Option) *Handler {
	h := &Handler{store: s, issuer: issuer, cost: bcrypt.DefaultCost}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/signup", h.Signup)
	mux.HandleFunc("POST /api/login", h.Login)
	mux.HandleFunc("POST /api/guest", h.Guest)
	mux.HandleFunc("POST /api/save-summary", h.SaveSummary)
	mux.HandleFunc("GET /api/summaries", h.Summaries)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("API running"))
	})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
}

// Signup registers a user and returns a token for them.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in credentials
	if !h.decode(w, r, "signup", &in) {
		return
	}
	if in.Username == "" || in.Password == "" {
		h.fail(ctx, w, "signup", http.StatusBadRequest, MsgMissingFields)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), h.cost)
	if err != nil {
		observe.Logger(ctx).Error("hash password", "err", err)
		h.fail(ctx, w, "signup", http.StatusInternalServerError, MsgServerError)
		return
	}
	if _, err := h.store.CreateUser(ctx, in.Username, string(hash)); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			h.fail(ctx, w, "signup", http.StatusBadRequest, MsgUserExists)
			return
		}
		observe.Logger(ctx).Error("create user", "err", err)
		h.fail(ctx, w, "signup", http.StatusInternalServerError, MsgServerError)
		return
	}

	h.issueUser(ctx, w, "signup", in.Username)
}

// Login checks credentials and returns a token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in credentials
	if !h.decode(w, r, "login", &in) {
		return
	}
	if in.Username == "" || in.Password == "" {
		h.fail(ctx, w, "login", http.StatusBadRequest, MsgMissingFields)
		return
	}

	u, err := h.store.UserByName(ctx, in.Username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(in.Password))
		h.fail(ctx, w, "login", http.StatusUnauthorized, MsgInvalidCredentials)
		return
	case err != nil:
		observe.Logger(ctx).Error("look up user", "err", err)
		h.fail(ctx, w, "login", http.StatusInternalServerError, MsgServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		h.fail(ctx, w, "login", http.StatusUnauthorized, MsgInvalidCredentials)
		return
	}

	h.issueUser(ctx, w, "login", u.Username)
}

// Guest returns a guest token.
func (h *Handler) Guest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := h.issuer.IssueGuest()
	if err != nil {
		observe.Logger(ctx).Error("issue guest token", "err", err)
		h.fail(ctx, w, "guest", http.StatusInternalServerError, MsgServerError)
		return
	}
	h.record(ctx, "guest", "ok")
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, Guest: true})
}

// SaveSummary stores a summary for the user behind the token in the body.
func (h *Handler) SaveSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in struct {
		Token   string `json:"token"`
		Summary string `json:"summary"`
	}
	if !h.decode(w, r, "save_summary", &in) {
		return
	}
	if in.Token == "" || in.Summary == "" {
		h.fail(ctx, w, "save_summary", http.StatusBadRequest, MsgMissingSummary)
		return
	}

	u, ok := h.userFor(ctx, w, "save_summary", in.Token, MsgGuestNotSaving)
	if !ok {
		return
	}
	if _, err := h.store.SaveSummary(ctx, u.ID, in.Summary); err != nil {
		observe.Logger(ctx).Error("save summary", "err", err)
		h.fail(ctx, w, "save_summary", http.StatusInternalServerError, MsgServerError)
		return
	}

	observe.Logger(ctx).Debug("summary saved", "user", u.Username)
	h.record(ctx, "save_summary", "ok")
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// Summaries lists the saved summaries of the user behind the bearer token or
// the token query parameter, newest first.
func (h *Handler) Summaries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := bearer(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		h.fail(ctx, w, "summaries", http.StatusBadRequest, MsgMissingToken)
		return
	}

	u, ok := h.userFor(ctx, w, "summaries", token, MsgGuestNoSummaries)
	if !ok {
		return
	}
	sums, err := h.store.Summaries(ctx, u.ID)
	if err != nil {
		observe.Logger(ctx).Error("list summaries", "err", err)
		h.fail(ctx, w, "summaries", http.StatusInternalServerError, MsgServerError)
		return
	}

	h.record(ctx, "summaries", "ok")
	writeJSON(w, http.StatusOK, map[string][]store.Summary{"summaries": sums})
}

// userFor verifies token and resolves its user, writing the error response
// itself when that fails.
func (h *Handler) userFor(ctx context.Context, w http.ResponseWriter, action, token, guestMsg string) (store.User, bool) {
	claims, err := h.issuer.Verify(token)
	if err != nil {
		observe.Logger(ctx).Debug("rejected token", "action", action, "err", err)
		h.fail(ctx, w, action, http.StatusUnauthorized, MsgInvalidToken)
		return store.User{}, false
	}
	if claims.Guest {
		h.fail(ctx, w, action, http.StatusForbidden, guestMsg)
		return store.User{}, false
	}

	u, err := h.store.UserByName(ctx, claims.Username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.fail(ctx, w, action, http.StatusNotFound, MsgUserNotFound)
		return store.User{}, false
	case err != nil:
		observe.Logger(ctx).Error("look up user", "err", err)
		h.fail(ctx, w, action, http.StatusInternalServerError, MsgServerError)
		return store.User{}, false
	}
	return u, true
}

func (h *Handler) issueUser(ctx context.Context, w http.ResponseWriter, action, username string) {
	tok, err := h.issuer.IssueUser(username)
	if err != nil {
		observe.Logger(ctx).Error("issue token", "err", err)
		h.fail(ctx, w, action, http.StatusInternalServerError, MsgServerError)
		return
	}
	h.record(ctx, action, "ok")
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, Username: username})
}

// decode reads the JSON body of r into v. Malformed JSON leaves v partly
// filled and is reported by the caller as missing fields; an oversized body
// is answered here and decode returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, action string, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.fail(r.Context(), w, action, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
		return false
	}
	return true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, action string, status int, msg string) {
	h.record(ctx, action, http.StatusText(status))
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) record(ctx context.Context, action, status string) {
	if h.metrics != nil {
		h.metrics.RecordAuth(ctx, action, status)
	}
}

// bearer returns the token of an "Authorization: Bearer <token>" header.
func bearer(r *http.Request) string {
	v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
