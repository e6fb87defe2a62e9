// Package stream implements a capture.Engine on top of a server-side
// stt.Provider. Audio arrives from the browser as binary websocket frames and
// is forwarded with SendAudio; committed transcripts become final results.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/scamguard/pkg/provider/capture"
	"github.com/MrWong99/scamguard/pkg/provider/stt"
)

// Engine adapts an stt.Provider to capture.Engine.
type Engine struct {
	provider stt.Provider
	cfg      stt.StreamConfig

	mu      sync.Mutex
	handler capture.Handler
	sess    stt.SessionHandle
}

// New returns an Engine opening sessions on provider with cfg.
func New(provider stt.Provider, cfg stt.StreamConfig) *Engine {
	return &Engine{provider: provider, cfg: cfg}
}

// Bind implements capture.Engine.
func (e *Engine) Bind(h capture.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Ready implements capture.Engine. A configured provider is always ready.
func (e *Engine) Ready() bool {
	return e.provider != nil
}

// Start opens a new STT session and begins forwarding its transcripts.
func (e *Engine) Start(ctx context.Context) error {
	if e.provider == nil {
		return capture.ErrNotSupported
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		return capture.ErrAlreadyStarted
	}

	sess, err := e.provider.StartStream(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("stream: start: %w", err)
	}
	e.sess = sess
	go e.pump(sess, e.handler)
	return nil
}

// Stop closes the running session. Its end is not reported as OnEnd since
// the owner asked for it.
func (e *Engine) Stop() error {
	e.mu.Lock()
	sess := e.sess
	e.sess = nil
	e.mu.Unlock()

	if sess == nil {
		return capture.ErrNotStarted
	}
	return sess.Close()
}

// SendAudio forwards a PCM chunk to the running session.
func (e *Engine) SendAudio(chunk []byte) error {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()

	if sess == nil {
		return capture.ErrNotStarted
	}
	return sess.SendAudio(chunk)
}

// pump forwards transcripts of one session until its finals channel closes.
func (e *Engine) pump(sess stt.SessionHandle, h capture.Handler) {
	if h != nil {
		h.OnStart()
	}

	partials := sess.Partials()
	finals := sess.Finals()
	for finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if h != nil {
				h.OnResult([]capture.Result{{IsFinal: false, Text: t.Text}})
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if h != nil {
				h.OnResult([]capture.Result{{IsFinal: true, Text: t.Text}})
			}
		}
	}

	e.mu.Lock()
	own := e.sess == sess
	if own {
		e.sess = nil
	}
	e.mu.Unlock()
	if !own {
		return
	}

	// The provider hung up on its own.
	if err := sess.Close(); err != nil {
		slog.Debug("stream: close ended session", "err", err)
	}
	if h == nil {
		return
	}
	if err := sess.Err(); err != nil {
		h.OnError(err.Error())
	}
	h.OnEnd()
}

var _ capture.Engine = (*Engine)(nil)
