// Package capture defines the Speech Capture Adapter: the boundary between a
// continuous speech-to-text engine and the call controller.
//
// An Engine is started and stopped by its owner and reports what happens to
// it through a bound Handler. Engines deliver callbacks from their own
// goroutines and never from inside Start or Stop, so a Handler may forward
// events to a queue owned by the caller of Start without deadlocking.
//
// Two engines exist: relay (the browser's speech engine driven over the call
// websocket) and stream (a server-side stt.Provider fed with audio frames).
package capture

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotSupported is returned by Start when the underlying speech engine
	// does not exist on the client. It is not retried.
	ErrNotSupported = errors.New("capture: speech recognition not supported")

	// ErrNotReady is returned by Start before the engine reported readiness.
	ErrNotReady = errors.New("capture: speech recognition not ready")

	// ErrAlreadyStarted is returned by Start while the engine is running.
	ErrAlreadyStarted = errors.New("capture: already started")

	// ErrNotStarted is returned by operations that need a running engine.
	ErrNotStarted = errors.New("capture: not started")
)

// Result is one recognition result reported by an engine. Only results with
// IsFinal set are consumed as utterances.
type Result struct {
	IsFinal bool   `json:"is_final"`
	Text    string `json:"transcript"`
}

// Handler receives engine signals. Implementations must not block for long;
// the call controller's handler only enqueues events.
type Handler interface {
	// OnStart is called once the engine is actually listening.
	OnStart()

	// OnError reports an engine failure. The engine may or may not end after it.
	OnError(reason string)

	// OnEnd is called when the engine stopped listening on its own.
	OnEnd()

	// OnResult delivers one or more results in engine order.
	OnResult(results []Result)
}

// Engine is a continuous speech-to-text engine.
type Engine interface {
	// Bind sets the handler receiving engine signals. It must be called before
	// Start. Binding again replaces the previous handler.
	Bind(h Handler)

	// Ready reports whether Start may be called.
	Ready() bool

	// Start begins listening. OnStart follows asynchronously.
	Start(ctx context.Context) error

	// Stop ends listening. Stopping an engine that is not running is allowed;
	// implementations may return an error, which callers ignore.
	Stop() error
}

// SupportReporter is implemented by engines that can learn that the client
// has no speech engine at all. Unlike Ready, a false Supported is permanent.
type SupportReporter interface {
	Supported() bool
}

// Supported reports whether e can ever become ready. Engines that do not
// implement [SupportReporter] are assumed supported.
func Supported(e Engine) bool {
	if r, ok := e.(SupportReporter); ok {
		return r.Supported()
	}
	return true
}

// FinalTexts returns the non-empty, trimmed texts of the final results in
// order.
func FinalTexts(results []Result) []string {
	var out []string
	for _, r := range results {
		if !r.IsFinal {
			continue
		}
		if text := strings.TrimSpace(r.Text); text != "" {
			out = append(out, text)
		}
	}
	return out
}
