package classify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/pkg/types"
)

// Fallback replies shown when a classification fails.
const (
	ReplyServerError = "Error processing conversation."
	ReplyUnreachable = "Could not reach classification server."
)

// DefaultTimeout bounds a single classification request.
const DefaultTimeout = 30 * time.Second

// Outcome is the completion of one dispatched request.
type Outcome struct {
	Seq      uint64
	Response *Response
	Err      error
	Elapsed  time.Duration
}

// Label names the outcome for metrics.
func (o Outcome) Label() string {
	if o.Err == nil {
		return observe.OutcomeOK
	}
	var se *StatusError
	if errors.As(o.Err, &se) {
		return observe.OutcomeStatusError
	}
	return observe.OutcomeUnreachable
}

// Dispatcher issues classification requests asynchronously. Completions are
// handed to the post function, which is expected to enqueue them on the
// owning call's event loop; the loop then calls Accept before applying them.
type Dispatcher struct {
	classifier Classifier
	post       func(Outcome)
	timeout    time.Duration
	metrics    *observe.Metrics

	mu      sync.Mutex
	next    uint64
	applied uint64
	floor   uint64

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout sets the per-request timeout. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(ds *Dispatcher) { ds.metrics = m }
}

// NewDispatcher returns a Dispatcher sending requests to c and completions to
// post.
func NewDispatcher(c Classifier, post func(Outcome), opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{classifier: c, post: post, timeout: DefaultTimeout}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch starts classifying conversation and returns the request's sequence
// number. The request is cancelled when ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, conversation string) uint64 {
	d.mu.Lock()
	d.next++
	seq := d.next
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		rctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		start := time.Now()
		resp, err := d.classifier.Classify(rctx, conversation)
		o := Outcome{Seq: seq, Response: resp, Err: err, Elapsed: time.Since(start)}
		if err != nil {
			observe.Logger(ctx).Warn("classification failed", "seq", seq, "err", err)
		}
		d.post(o)
	}()
	return seq
}

// Accept reports whether o may be applied. Outcomes issued before the last
// Invalidate, or older than the newest applied outcome, are rejected and
// counted as stale; logging the drop is left to the caller, which knows the
// call it belongs to.
func (d *Dispatcher) Accept(ctx context.Context, o Outcome) bool {
	d.mu.Lock()
	ok := o.Seq > d.floor && o.Seq > d.applied
	if ok {
		d.applied = o.Seq
	}
	d.mu.Unlock()

	if d.metrics != nil {
		label := o.Label()
		if !ok {
			label = observe.OutcomeStale
		}
		d.metrics.RecordClassification(ctx, label, o.Elapsed.Seconds())
	}
	return ok
}

// Invalidate makes every request issued so far stale.
func (d *Dispatcher) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.floor = d.next
}

// Wait blocks until all in-flight requests have posted their outcome.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Apply maps o onto prev and returns the new result.
func Apply(prev types.ClassificationResult, o Outcome) types.ClassificationResult {
	next := prev

	if o.Err != nil {
		next.ConfidenceLevel = types.ProcessingError
		next.Summary = ""
		var se *StatusError
		switch {
		case errors.As(o.Err, &se) && se.Message != "":
			next.SuggestedReply = se.Message
		case se != nil:
			next.SuggestedReply = ReplyServerError
		default:
			next.SuggestedReply = ReplyUnreachable
		}
		return next
	}

	r := o.Response
	if r == nil {
		r = &Response{}
	}
	if r.ConfidenceLevel != "" {
		next.ConfidenceLevel = types.ConfidenceLevel(r.ConfidenceLevel)
	}
	switch {
	case r.SuggestedReply != "":
		next.SuggestedReply = r.SuggestedReply
	case r.Error != "":
		next.SuggestedReply = "Error: " + r.Error
	}
	next.Summary = r.Summary
	return next
}
