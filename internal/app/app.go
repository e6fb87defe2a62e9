// Package app serves browser call sessions over websockets.
//
// Every connection gets its own [call.Controller] and capture engine. The
// relay engine drives the browser's speech recognition through the same
// socket; the stream engine receives PCM audio as binary frames and
// transcribes it with a server-side STT provider. Each connection runs three
// goroutines under one errgroup: the controller loop, the socket reader and
// the socket writer. The first to fail tears the others down.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/scamguard/internal/call"
	"github.com/MrWong99/scamguard/internal/classify"
	"github.com/MrWong99/scamguard/internal/config"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/summary"
	"github.com/MrWong99/scamguard/internal/transcript"
	"github.com/MrWong99/scamguard/internal/turn"
	"github.com/MrWong99/scamguard/pkg/provider/stt"
)

// Deps are the collaborators shared by all calls.
type Deps struct {
	// Classifier scores conversation windows. Required.
	Classifier classify.Classifier

	// Saver persists summaries of signed-in users. Nil disables persistence.
	Saver summary.Saver

	// STT transcribes audio for the stream capture engine.
	STT stt.Provider

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// App owns the call sessions of one server.
type App struct {
	capture         config.CaptureConfig
	origins         []string
	classifyTimeout time.Duration

	classifier classify.Classifier
	stt        stt.Provider
	metrics    *observe.Metrics
	bridge     *summary.Bridge
	fixer      *transcript.Corrector
	clock      turn.Clock
	sessions   *SessionManager

	mu      sync.RWMutex
	callCfg call.Config
}

// Option configures an App.
type Option func(*App)

// WithClock replaces the clock driving silence timers of every call.
func WithClock(c turn.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New returns an App configured from cfg.
func New(cfg *config.Config, deps Deps, opts ...Option) (*App, error) {
	if deps.Classifier == nil {
		return nil, errors.New("app: a classifier is required")
	}
	if cfg.Capture.Engine == config.CaptureStream && deps.STT == nil {
		return nil, errors.New("app: the stream capture engine requires an STT provider")
	}

	a := &App{
		capture:         cfg.Capture,
		origins:         cfg.Server.AllowedOrigins,
		classifyTimeout: cfg.Classifier.Timeout,
		classifier:      deps.Classifier,
		stt:             deps.STT,
		metrics:         deps.Metrics,
		bridge:          summary.NewBridge(deps.Saver, cfg.Persistence.Timeout, deps.Metrics),
		sessions:        NewSessionManager(),
	}
	if len(cfg.Capture.Keywords) > 0 {
		a.fixer = transcript.NewCorrector(cfg.Capture.Keywords)
	}
	for _, o := range opts {
		o(a)
	}
	if err := a.SetCallConfig(cfg.Call); err != nil {
		return nil, err
	}
	return a, nil
}

// SetCallConfig replaces the tuning used for calls that connect from now on.
// Live calls keep the tuning they started with.
func (a *App) SetCallConfig(c config.CallConfig) error {
	cc := call.Config{
		Silence:         c.Silence,
		WindowSize:      c.WindowSize,
		Trigger:         call.Trigger(c.Trigger),
		ClassifyTimeout: a.classifyTimeout,
	}
	if err := cc.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.callCfg = cc
	a.mu.Unlock()
	return nil
}

func (a *App) callConfig() call.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.callCfg
}

// Sessions returns the live call registry.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Register adds the call routes to mux.
func (a *App) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/call", a.ServeCall)
	mux.HandleFunc("GET /calls", a.ListCalls)
}

// ListCalls answers with the metadata of every live call.
func (a *App) ListCalls(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Calls []CallInfo `json:"calls"`
	}{Calls: a.sessions.List()})
}

// Shutdown closes every live call and waits for pending summary saves. It
// returns early when ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.sessions.CloseAll(ctx)

	saved := make(chan struct{})
	go func() {
		a.bridge.Wait()
		close(saved)
	}()
	select {
	case <-saved:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}
