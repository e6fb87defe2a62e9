package call

import (
	"context"
	"errors"

	"github.com/MrWong99/scamguard/internal/classify"
	"github.com/MrWong99/scamguard/internal/conversation"
	"github.com/MrWong99/scamguard/internal/transcript"
	"github.com/MrWong99/scamguard/pkg/provider/capture"
	"github.com/MrWong99/scamguard/pkg/types"
)

// event is one unit of work for the controller loop.
type event interface {
	apply(c *Controller)
}

type startCall struct {
	ctx   context.Context
	reply chan<- error
}

func (e startCall) apply(c *Controller) {
	var err error
	switch {
	case c.engine == nil, !capture.Supported(c.engine):
		err = ErrEngineUnavailable
	case !c.engine.Ready():
		err = ErrEngineNotReady
	case c.status == StatusActive:
		// Already running.
	default:
		err = c.begin(e.ctx)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrEngineUnavailable) && c.errMsg != "":
		// Keep the engine's own explanation of what is missing.
	default:
		c.errMsg = Message(err)
	}
	e.reply <- err
}

// begin starts a new call on a ready engine.
func (c *Controller) begin(ctx context.Context) error {
	if c.buf.Len() > 0 {
		c.clear()
	}
	c.errMsg = ""
	c.seg.Reset(types.Receiver)

	if err := c.startEngine(ctx); err != nil {
		c.logger().Warn("failed to start capture", "err", err)
		return err
	}
	c.status = StatusActive
	c.startedAt = c.now()
	c.logger().Info("call started")
	return nil
}

type endCall struct {
	reply chan<- error
}

func (e endCall) apply(c *Controller) {
	if c.engine != nil {
		if err := c.engine.Stop(); err != nil && !errors.Is(err, capture.ErrNotStarted) {
			c.logger().Debug("stop capture", "err", err)
		}
	}
	c.seg.Cancel()
	if c.status == StatusActive {
		c.logger().Info("call ended", "utterances", c.buf.Len())
	}
	c.status = StatusIdle
	c.listening = false
	e.reply <- nil
}

type resetCall struct {
	reply chan<- error
}

func (e resetCall) apply(c *Controller) {
	c.clear()
	c.logger().Debug("call reset")
	e.reply <- nil
}

type setToken struct {
	token string
	reply chan<- error
}

func (e setToken) apply(c *Controller) {
	c.token = e.token
	e.reply <- nil
}

type captureStarted struct{}

func (captureStarted) apply(c *Controller) {
	c.listening = true
}

type captureError struct {
	reason string
}

// apply records the error. A pending silence timer keeps running.
func (e captureError) apply(c *Controller) {
	c.logger().Warn("capture error", "reason", e.reason)
	c.errMsg = e.reason
	c.listening = false
}

type captureEnded struct{}

// apply restarts capture while the call is active; engines end sessions on
// their own after a stretch of silence.
func (captureEnded) apply(c *Controller) {
	if c.status != StatusActive || c.engine == nil {
		c.listening = false
		return
	}

	err := c.engine.Start(c.ctx)
	if c.metrics != nil {
		c.metrics.RecordCaptureRestart(c.ctx, err)
	}
	if err != nil {
		c.logger().Warn("could not restart capture", "err", err)
		c.errMsg = MsgRestartFailed
		c.listening = false
		return
	}
	c.logger().Debug("capture restarted")
}

type captureResult struct {
	results []capture.Result
}

func (e captureResult) apply(c *Controller) {
	for _, text := range capture.FinalTexts(e.results) {
		if c.fixer != nil {
			var fixed []transcript.Correction
			text, fixed = c.fixer.Correct(text)
			for _, f := range fixed {
				c.logger().Debug("keyword corrected", "from", f.Original, "to", f.Corrected, "score", f.Score)
			}
		}
		u := c.seg.Accept(text)
		c.buf.Append(u)
		if c.metrics != nil {
			c.metrics.RecordUtterance(c.ctx, string(u.Speaker))
		}
		if c.shouldClassify(u) {
			seq := c.disp.Dispatch(c.ctx, conversation.Render(c.buf.Window()))
			c.logger().Debug("classification dispatched", "seq", seq, "utterance", u.Sequence)
		}
	}
}

type silenceExpired struct {
	gen uint64
}

func (e silenceExpired) apply(c *Controller) {
	if c.seg.Expire(e.gen) && c.metrics != nil {
		c.metrics.SpeakerFlips.Add(c.ctx, 1)
	}
}

type classified struct {
	outcome classify.Outcome
}

func (e classified) apply(c *Controller) {
	if !c.disp.Accept(c.ctx, e.outcome) {
		c.logger().Debug("dropping stale classification", "seq", e.outcome.Seq)
		return
	}
	c.result = classify.Apply(c.result, e.outcome)

	if s := c.result.Summary; e.outcome.Err == nil && s != "" && s != types.NoSummary {
		c.bridge.Forward(c.ctx, c.token, s)
	}
}

// handler adapts capture callbacks to controller events.
type handler struct {
	c *Controller
}

func (h handler) OnStart() { h.c.enqueue(captureStarted{}) }

func (h handler) OnError(reason string) { h.c.enqueue(captureError{reason: reason}) }

func (h handler) OnEnd() { h.c.enqueue(captureEnded{}) }

func (h handler) OnResult(rs []capture.Result) { h.c.enqueue(captureResult{results: rs}) }

var _ capture.Handler = handler{}
