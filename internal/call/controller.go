// Package call implements the call lifecycle controller.
//
// A Controller owns everything about one call: the capture engine, the turn
// segmenter, the conversation buffer, the classification dispatcher and the
// latest result. All of that state is touched only by the goroutine running
// [Controller.Run]. Engine callbacks, silence timers, classification
// completions and the public methods all reach the loop as typed events, so
// an utterance append and a speaker flip can never interleave.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scamguard/internal/classify"
	"github.com/MrWong99/scamguard/internal/conversation"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/summary"
	"github.com/MrWong99/scamguard/internal/transcript"
	"github.com/MrWong99/scamguard/internal/turn"
	"github.com/MrWong99/scamguard/pkg/provider/capture"
	"github.com/MrWong99/scamguard/pkg/types"
)

var (
	// ErrEngineUnavailable is returned by Start when no capture engine exists
	// or the client has no speech engine. It is permanent for the call.
	ErrEngineUnavailable = errors.New("call: speech recognition not available")

	// ErrEngineNotReady is returned by Start before the engine is ready.
	ErrEngineNotReady = errors.New("call: speech recognition not ready")

	// ErrStartFailed wraps the engine error when Start could not start it.
	ErrStartFailed = errors.New("call: failed to start speech recognition")

	// ErrClosed is returned once the controller's loop has stopped.
	ErrClosed = errors.New("call: controller closed")
)

// Messages displayed for controller errors.
const (
	MsgEngineUnavailable = "Speech recognition not available."
	MsgEngineNotReady    = "Speech recognition not ready yet."
	MsgStartFailed       = "Failed to start speech recognition."
	MsgRestartFailed     = "Could not restart speech recognition."
)

// Message returns the display text for an error returned by the controller.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEngineUnavailable), errors.Is(err, capture.ErrNotSupported):
		return MsgEngineUnavailable
	case errors.Is(err, ErrEngineNotReady):
		return MsgEngineNotReady
	case errors.Is(err, ErrStartFailed):
		return MsgStartFailed
	default:
		return err.Error()
	}
}

// eventQueueSize bounds the number of pending events. Producers block when
// the queue is full.
const eventQueueSize = 64

// Controller runs one call. Create it with New and drive it with Run.
type Controller struct {
	id      string
	cfg     Config
	engine  capture.Engine
	clock   turn.Clock
	metrics *observe.Metrics
	bridge  *summary.Bridge
	fixer   *transcript.Corrector
	now     func() time.Time

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
	updates  chan Snapshot

	snapMu sync.RWMutex
	snap   Snapshot

	// Loop-owned state.
	ctx       context.Context
	seg       *turn.Segmenter
	buf       *conversation.Buffer
	disp      *classify.Dispatcher
	status    Status
	listening bool
	startedAt time.Time
	result    types.ClassificationResult
	errMsg    string
	token     string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the clock driving silence timers.
func WithClock(c turn.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithMetrics records call metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(ctrl *Controller) { ctrl.metrics = m }
}

// WithSummaryBridge forwards classifier summaries through b.
func WithSummaryBridge(b *summary.Bridge) Option {
	return func(ctrl *Controller) { ctrl.bridge = b }
}

// WithToken sets the identity token used for summary persistence.
func WithToken(token string) Option {
	return func(ctrl *Controller) { ctrl.token = token }
}

// WithCorrector rewrites final utterances with c before they are attributed
// to a speaker.
func WithCorrector(c *transcript.Corrector) Option {
	return func(ctrl *Controller) { ctrl.fixer = c }
}

// New returns a Controller for call id. engine may be nil, in which case
// Start always fails with ErrEngineUnavailable. The controller binds itself
// as the engine's handler.
func New(id string, engine capture.Engine, classifier classify.Classifier, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		id:      id,
		cfg:     cfg.withDefaults(),
		engine:  engine,
		now:     time.Now,
		events:  make(chan event, eventQueueSize),
		done:    make(chan struct{}),
		updates: make(chan Snapshot, 1),
		ctx:     context.Background(),
		status:  StatusIdle,
		result:  types.InitialResult(),
	}
	for _, o := range opts {
		o(c)
	}

	c.seg = turn.New(c.cfg.Silence, c.clock, func(gen uint64) {
		c.enqueue(silenceExpired{gen: gen})
	})
	c.buf = conversation.NewBuffer(c.cfg.WindowSize)

	dopts := []classify.DispatcherOption{classify.WithTimeout(c.cfg.ClassifyTimeout)}
	if c.metrics != nil {
		dopts = append(dopts, classify.WithMetrics(c.metrics))
	}
	c.disp = classify.NewDispatcher(classifier, func(o classify.Outcome) {
		c.enqueue(classified{outcome: o})
	}, dopts...)

	if engine != nil {
		engine.Bind(handler{c})
	}
	c.snap = c.snapshot()
	return c
}

// ID returns the call ID.
func (c *Controller) ID() string { return c.id }

// Run processes events until ctx is cancelled. It stops the engine if the
// call is still active and waits for in-flight classifications before
// returning.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	log := c.logger()
	log.Debug("call loop started")

	for {
		select {
		case ev := <-c.events:
			ev.apply(c)
			c.publish()
		case <-ctx.Done():
			c.shutdown()
			log.Debug("call loop stopped")
			return nil
		}
	}
}

func (c *Controller) shutdown() {
	c.seg.Cancel()
	if c.status == StatusActive && c.engine != nil {
		if err := c.engine.Stop(); err != nil {
			c.logger().Debug("stop engine on shutdown", "err", err)
		}
	}
	c.stopOnce.Do(func() { close(c.done) })
	c.disp.Wait()
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Start starts the call. It fails with ErrEngineUnavailable or
// ErrEngineNotReady without changing the call, and with ErrStartFailed when
// the engine refused to start. A non-empty transcript from a previous call is
// cleared first. Starting an active call does nothing.
func (c *Controller) Start(ctx context.Context) error {
	return c.command(ctx, func(reply chan<- error) event { return startCall{ctx: ctx, reply: reply} })
}

// EndCall stops capture and returns to idle. The transcript and the last
// result stay visible. It never fails for a running controller.
func (c *Controller) EndCall(ctx context.Context) error {
	return c.command(ctx, func(reply chan<- error) event { return endCall{reply: reply} })
}

// Reset clears the call: transcript, window, speaker, result and error.
// Classifications still in flight are discarded when they complete.
func (c *Controller) Reset(ctx context.Context) error {
	return c.command(ctx, func(reply chan<- error) event { return resetCall{reply: reply} })
}

// SetToken replaces the identity token used for summary persistence.
func (c *Controller) SetToken(ctx context.Context, token string) error {
	return c.command(ctx, func(reply chan<- error) event { return setToken{token: token, reply: reply} })
}

// command enqueues the event built by mk and waits for the loop to apply it.
func (c *Controller) command(ctx context.Context, mk func(chan<- error) event) error {
	reply := make(chan error, 1)
	select {
	case c.events <- mk(reply):
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue hands ev to the loop. It gives up once the loop has stopped.
func (c *Controller) enqueue(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Updates delivers snapshots after state changes. Only the most recent
// undelivered snapshot is kept.
func (c *Controller) Updates() <-chan Snapshot { return c.updates }

// publish stores the current snapshot and offers it on the updates channel,
// replacing an undelivered one.
func (c *Controller) publish() {
	s := c.snapshot()
	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()

	select {
	case <-c.updates:
	default:
	}
	c.updates <- s
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		ID:         c.id,
		Status:     c.status,
		Listening:  c.listening,
		StartedAt:  c.startedAt,
		Speaker:    c.seg.Speaker(),
		Transcript: c.buf.Transcript(),
		Window:     c.buf.Window(),
		Result:     c.result,
		Badge:      c.result.ConfidenceLevel.Badge().Class(),
		Error:      c.errMsg,
	}
}

func (c *Controller) logger() *slog.Logger {
	return observe.Logger(c.ctx).With("call_id", c.id)
}

// clear is the full reset shared by Reset and Start.
func (c *Controller) clear() {
	c.seg.Reset(types.Receiver)
	c.buf.Reset()
	c.disp.Invalidate()
	c.result = types.InitialResult()
	c.errMsg = ""
}

// startEngine starts capture and wraps failures in ErrStartFailed.
func (c *Controller) startEngine(ctx context.Context) error {
	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	return nil
}

// shouldClassify applies the trigger policy to a freshly appended utterance.
func (c *Controller) shouldClassify(u types.Utterance) bool {
	switch c.cfg.Trigger {
	case TriggerEvery:
		return true
	default:
		return u.Speaker == types.Caller
	}
}
