// Package relay implements a capture.Engine backed by the browser's own
// speech recognition engine.
//
// The browser and the server share the call websocket: the engine sends start
// and stop commands through a Sender, and the websocket read loop hands every
// capture event the browser reports to Deliver. The browser decides readiness
// (it waits for its recognition object to settle before announcing "ready").
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/scamguard/pkg/provider/capture"
)

// Command actions sent to the browser.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Event types reported by the browser.
const (
	EventReady       = "ready"
	EventUnsupported = "unsupported"
	EventStart       = "start"
	EventError       = "error"
	EventEnd         = "end"
	EventResult      = "result"
)

// defaultErrorReason is reported when the browser sends an error without one.
const defaultErrorReason = "Speech recognition error"

// stopTimeout bounds how long Stop waits for the stop command to be written.
const stopTimeout = 2 * time.Second

// Command is a capture instruction for the browser.
type Command struct {
	Action string `json:"action"`
}

// Event is a capture signal reported by the browser.
type Event struct {
	Type    string           `json:"type"`
	Reason  string           `json:"reason,omitempty"`
	Results []capture.Result `json:"results,omitempty"`
}

// Sender writes a command to the browser.
type Sender func(ctx context.Context, cmd Command) error

// Engine relays capture control to a browser.
type Engine struct {
	send Sender

	mu          sync.Mutex
	handler     capture.Handler
	ready       bool
	unsupported bool
}

// New returns an Engine writing commands through send.
func New(send Sender) *Engine {
	return &Engine{send: send}
}

// Bind implements capture.Engine.
func (e *Engine) Bind(h capture.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Ready implements capture.Engine.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready && !e.unsupported
}

// Supported reports false once the browser announced that it has no speech
// recognition engine.
func (e *Engine) Supported() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unsupported
}

// Start asks the browser to start recognition. The browser confirms with a
// start event, or reports an error event if its engine refused.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	unsupported, ready := e.unsupported, e.ready
	e.mu.Unlock()

	switch {
	case unsupported:
		return capture.ErrNotSupported
	case !ready:
		return capture.ErrNotReady
	}
	if err := e.send(ctx, Command{Action: ActionStart}); err != nil {
		return fmt.Errorf("relay: send start: %w", err)
	}
	return nil
}

// Stop asks the browser to stop recognition.
func (e *Engine) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := e.send(ctx, Command{Action: ActionStop}); err != nil {
		return fmt.Errorf("relay: send stop: %w", err)
	}
	return nil
}

// Deliver applies one browser event. It is called from the websocket read
// loop and forwards signals to the bound handler.
func (e *Engine) Deliver(ev Event) error {
	e.mu.Lock()
	h := e.handler
	switch ev.Type {
	case EventReady:
		e.ready = true
	case EventUnsupported:
		e.unsupported = true
	}
	e.mu.Unlock()

	switch ev.Type {
	case EventReady:
		return nil
	case EventUnsupported, EventStart, EventError, EventEnd, EventResult:
	default:
		return fmt.Errorf("relay: unknown capture event %q", ev.Type)
	}
	if h == nil {
		return nil
	}

	switch ev.Type {
	case EventUnsupported:
		h.OnError(UnsupportedReason)
	case EventStart:
		h.OnStart()
	case EventError:
		reason := ev.Reason
		if reason == "" {
			reason = defaultErrorReason
		}
		h.OnError(reason)
	case EventEnd:
		h.OnEnd()
	case EventResult:
		h.OnResult(ev.Results)
	}
	return nil
}

// UnsupportedReason is the error shown when the browser has no speech engine.
const UnsupportedReason = "SpeechRecognition API not supported in this browser."

var (
	_ capture.Engine          = (*Engine)(nil)
	_ capture.SupportReporter = (*Engine)(nil)
)
