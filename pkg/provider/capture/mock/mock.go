// Package mock provides a scriptable capture.Engine for tests.
//
// The engine records Start and Stop calls and lets tests play the part of the
// speech engine by firing handler callbacks directly:
//
//	eng := &mock.Engine{ReadyValue: true}
//	ctrl := call.New(eng, ...)
//	eng.Results(capture.Result{IsFinal: true, Text: "hello"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scamguard/pkg/provider/capture"
)

// Engine is a mock implementation of capture.Engine.
type Engine struct {
	mu sync.Mutex

	// ReadyValue is returned by Ready.
	ReadyValue bool

	// Unsupported makes Supported report false.
	Unsupported bool

	// StartErr, if non-nil, is returned by every Start call once StartErrs is
	// exhausted.
	StartErr error

	// StartErrs is consumed in order by successive Start calls.
	StartErrs []error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// StartCalls and StopCalls count invocations.
	StartCalls int
	StopCalls  int

	handler capture.Handler
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
	return e.ReadyValue
}

// Supported implements capture.SupportReporter.
func (e *Engine) Supported() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Unsupported
}

// SetReady changes ReadyValue. Thread-safe.
func (e *Engine) SetReady(ready bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ReadyValue = ready
}

// Start records the call and returns the scripted error.
func (e *Engine) Start(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartCalls++
	if len(e.StartErrs) > 0 {
		err := e.StartErrs[0]
		e.StartErrs = e.StartErrs[1:]
		return err
	}
	return e.StartErr
}

// Stop records the call and returns StopErr.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StopCalls++
	return e.StopErr
}

// StartCallCount returns the number of Start calls. Thread-safe.
func (e *Engine) StartCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StartCalls
}

// StopCallCount returns the number of Stop calls. Thread-safe.
func (e *Engine) StopCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StopCalls
}

func (e *Engine) bound() capture.Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

// Started fires OnStart on the bound handler.
func (e *Engine) Started() {
	if h := e.bound(); h != nil {
		h.OnStart()
	}
}

// Fail fires OnError on the bound handler.
func (e *Engine) Fail(reason string) {
	if h := e.bound(); h != nil {
		h.OnError(reason)
	}
}

// End fires OnEnd on the bound handler.
func (e *Engine) End() {
	if h := e.bound(); h != nil {
		h.OnEnd()
	}
}

// Results fires OnResult on the bound handler.
func (e *Engine) Results(results ...capture.Result) {
	if h := e.bound(); h != nil {
		h.OnResult(results)
	}
}

// Say fires a single final result with text.
func (e *Engine) Say(text string) {
	e.Results(capture.Result{IsFinal: true, Text: text})
}

var (
	_ capture.Engine          = (*Engine)(nil)
	_ capture.SupportReporter = (*Engine)(nil)
)
