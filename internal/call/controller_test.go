package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/scamguard/internal/classify"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/summary"
	"github.com/MrWong99/scamguard/internal/transcript"
	clockmock "github.com/MrWong99/scamguard/internal/turn/mock"
	"github.com/MrWong99/scamguard/pkg/provider/capture"
	capturemock "github.com/MrWong99/scamguard/pkg/provider/capture/mock"
	"github.com/MrWong99/scamguard/pkg/provider/capture/relay"
	"github.com/MrWong99/scamguard/pkg/types"
)

// fakeClassifier records conversations and answers with a scripted response.
// When gate is non-nil every call blocks until a value is sent on it.
type fakeClassifier struct {
	mu    sync.Mutex
	convs []string
	resp  *classify.Response
	err   error
	gate  chan struct{}
}

func (f *fakeClassifier) Classify(ctx context.Context, conv string) (*classify.Response, error) {
	f.mu.Lock()
	f.convs = append(f.convs, conv)
	gate, resp, err := f.gate, f.resp, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

func (f *fakeClassifier) conversations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.convs...)
}

type harness struct {
	ctrl  *Controller
	eng   *capturemock.Engine
	clock *clockmock.Clock
	cls   *fakeClassifier
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		eng:   &capturemock.Engine{ReadyValue: true},
		clock: &clockmock.Clock{},
		cls:   &fakeClassifier{resp: &classify.Response{ConfidenceLevel: "Low", SuggestedReply: "Ask who is calling."}},
	}
	opts = append([]Option{WithClock(h.clock)}, opts...)
	h.ctrl = New("call-1", h.eng, h.cls, cfg, opts...)
	run(t, h.ctrl)
	return h
}

func run(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run returned %v", err)
		}
	})
}

// waitFor polls the controller's snapshot until cond holds.
func waitFor(t *testing.T, c *Controller, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot: %+v", what, s)
		}
		time.Sleep(time.Millisecond)
	}
}

func transcriptLen(n int) func(Snapshot) bool {
	return func(s Snapshot) bool { return len(s.Transcript) == n }
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.eng.Started()
	waitFor(t, h.ctrl, "listening", func(s Snapshot) bool { return s.Listening })
}

// say delivers one final result and waits until it is in the transcript.
func (h *harness) say(t *testing.T, text string) Snapshot {
	t.Helper()
	n := len(h.ctrl.Snapshot().Transcript)
	h.eng.Say(text)
	return waitFor(t, h.ctrl, "utterance "+text, transcriptLen(n+1))
}

// flip lets the silence timer expire and waits for the speaker to change.
func (h *harness) flip(t *testing.T) {
	t.Helper()
	before := h.ctrl.Snapshot().Speaker
	h.clock.Advance(1200 * time.Millisecond)
	waitFor(t, h.ctrl, "speaker flip", func(s Snapshot) bool { return s.Speaker != before })
}

func TestStart_Preconditions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		engine  func() capture.Engine
		wantErr error
		wantMsg string
	}{
		{
			name:    "no engine",
			engine:  func() capture.Engine { return nil },
			wantErr: ErrEngineUnavailable,
			wantMsg: "Speech recognition not available.",
		},
		{
			name:    "unsupported",
			engine:  func() capture.Engine { return &capturemock.Engine{ReadyValue: true, Unsupported: true} },
			wantErr: ErrEngineUnavailable,
			wantMsg: "Speech recognition not available.",
		},
		{
			name:    "not ready",
			engine:  func() capture.Engine { return &capturemock.Engine{} },
			wantErr: ErrEngineNotReady,
			wantMsg: "Speech recognition not ready yet.",
		},
		{
			name:    "engine refuses",
			engine:  func() capture.Engine { return &capturemock.Engine{ReadyValue: true, StartErr: errors.New("not-allowed")} },
			wantErr: ErrStartFailed,
			wantMsg: "Failed to start speech recognition.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := New("c", tt.engine(), &fakeClassifier{}, Config{}, WithClock(&clockmock.Clock{}))
			run(t, c)

			err := c.Start(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start = %v, want %v", err, tt.wantErr)
			}
			if got := Message(err); got != tt.wantMsg {
				t.Errorf("Message = %q, want %q", got, tt.wantMsg)
			}
			s := c.Snapshot()
			if s.Status != StatusIdle || s.Listening {
				t.Errorf("status = %s listening = %v, want idle and not listening", s.Status, s.Listening)
			}
			if s.Error != tt.wantMsg {
				t.Errorf("snapshot error = %q, want %q", s.Error, tt.wantMsg)
			}
		})
	}
}

func TestStart_RelayUnsupported(t *testing.T) {
	t.Parallel()

	var sends atomic.Int32
	eng := relay.New(func(context.Context, relay.Command) error {
		sends.Add(1)
		return nil
	})
	c := New("c", eng, &fakeClassifier{}, Config{}, WithClock(&clockmock.Clock{}))
	run(t, c)

	for _, typ := range []string{relay.EventReady, relay.EventUnsupported} {
		if err := eng.Deliver(relay.Event{Type: typ}); err != nil {
			t.Fatalf("Deliver(%s): %v", typ, err)
		}
	}
	waitFor(t, c, "unsupported reason", func(s Snapshot) bool { return s.Error == relay.UnsupportedReason })

	for i := range 2 {
		err := c.Start(context.Background())
		if !errors.Is(err, ErrEngineUnavailable) {
			t.Fatalf("Start #%d = %v, want %v", i+1, err, ErrEngineUnavailable)
		}
		if got := Message(err); got != MsgEngineUnavailable {
			t.Errorf("Message = %q, want %q", got, MsgEngineUnavailable)
		}
		s := c.Snapshot()
		if s.Error != relay.UnsupportedReason {
			t.Errorf("snapshot error = %q, want %q", s.Error, relay.UnsupportedReason)
		}
		if s.Status != StatusIdle || s.Listening {
			t.Errorf("status = %s listening = %v, want idle and not listening", s.Status, s.Listening)
		}
	}
	if n := sends.Load(); n != 0 {
		t.Errorf("sent %d commands to a browser without speech recognition", n)
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "unavailable", err: ErrEngineUnavailable, want: MsgEngineUnavailable},
		{name: "engine not supported", err: fmt.Errorf("%w: %w", ErrStartFailed, capture.ErrNotSupported), want: MsgEngineUnavailable},
		{name: "not ready", err: ErrEngineNotReady, want: MsgEngineNotReady},
		{name: "start failed", err: fmt.Errorf("%w: %w", ErrStartFailed, errors.New("not-allowed")), want: MsgStartFailed},
		{name: "other", err: errors.New("boom"), want: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Message(tt.err); got != tt.want {
				t.Errorf("Message(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestStart_Activates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := h.ctrl.Snapshot()
	if s.Status != StatusActive {
		t.Errorf("status = %s, want active", s.Status)
	}
	if s.Speaker != types.Receiver {
		t.Errorf("speaker = %s, want Receiver", s.Speaker)
	}
	if s.Result != types.InitialResult() {
		t.Errorf("result = %+v, want initial display values", s.Result)
	}
	if s.Listening {
		t.Error("listening before the engine confirmed start")
	}

	h.eng.Started()
	waitFor(t, h.ctrl, "listening", func(s Snapshot) bool { return s.Listening })

	// A second Start is a no-op.
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if h.eng.StartCallCount() != 1 {
		t.Errorf("engine started %d times, want 1", h.eng.StartCallCount())
	}
}

func TestTurnSegmentation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.start(t)

	h.say(t, "hello?")
	h.flip(t)
	h.say(t, "Hi, this is your bank.")
	h.clock.Advance(500 * time.Millisecond)
	h.say(t, "We need to verify your card.")
	h.flip(t)
	s := h.say(t, "What do you need?")

	want := []types.Utterance{
		{Speaker: types.Receiver, Text: "hello?", Sequence: 1},
		{Speaker: types.Caller, Text: "Hi, this is your bank.", Sequence: 2},
		{Speaker: types.Caller, Text: "We need to verify your card.", Sequence: 3},
		{Speaker: types.Receiver, Text: "What do you need?", Sequence: 4},
	}
	if len(s.Transcript) != len(want) {
		t.Fatalf("transcript = %+v, want %d utterances", s.Transcript, len(want))
	}
	for i := range want {
		if s.Transcript[i] != want[i] {
			t.Errorf("utterance %d = %+v, want %+v", i, s.Transcript[i], want[i])
		}
	}
}

func TestResults_NonFinalAndBlankIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.start(t)

	h.eng.Results(
		capture.Result{IsFinal: false, Text: "interim"},
		capture.Result{IsFinal: true, Text: "   "},
		capture.Result{IsFinal: true, Text: "  final words  "},
	)
	s := waitFor(t, h.ctrl, "one utterance", transcriptLen(1))
	if s.Transcript[0].Text != "final words" {
		t.Errorf("text = %q, want trimmed final text", s.Transcript[0].Text)
	}
}

func TestClassification_CallerTrigger(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.start(t)

	h.say(t, "Hello?")
	if n := len(h.cls.conversations()); n != 0 {
		t.Fatalf("receiver utterance triggered %d classifications", n)
	}

	h.flip(t)
	h.say(t, "This is the IRS.")
	s := waitFor(t, h.ctrl, "result", func(s Snapshot) bool { return s.Result.ConfidenceLevel == types.Low })

	if s.Result.SuggestedReply != "Ask who is calling." {
		t.Errorf("reply = %q", s.Result.SuggestedReply)
	}
	if s.Badge != "bg-lime-500 text-white" {
		t.Errorf("badge = %q", s.Badge)
	}
	convs := h.cls.conversations()
	if len(convs) != 1 || convs[0] != "Receiver: Hello?\nCaller: This is the IRS." {
		t.Errorf("classified conversations = %q", convs)
	}
}

func TestClassification_EveryTriggerAndWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Trigger: TriggerEvery, WindowSize: 2})
	h.start(t)

	h.say(t, "one")
	h.say(t, "two")
	h.say(t, "three")
	waitFor(t, h.ctrl, "three classifications", func(Snapshot) bool { return len(h.cls.conversations()) == 3 })

	convs := h.cls.conversations()
	if convs[2] != "Receiver: two\nReceiver: three" {
		t.Errorf("last window = %q, want the trailing two utterances", convs[2])
	}
	s := h.ctrl.Snapshot()
	if len(s.Window) != 2 || len(s.Transcript) != 3 {
		t.Errorf("window = %d transcript = %d, want 2 and 3", len(s.Window), len(s.Transcript))
	}
}

func TestClassification_FailureMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantReply string
	}{
		{"status error", &classify.StatusError{Code: 500, Message: "Error during scam detection workflow: quota"}, "Error during scam detection workflow: quota"},
		{"transport", errors.New("connection refused"), "Could not reach classification server."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, Config{Trigger: TriggerEvery})
			h.cls.err = tt.err
			h.start(t)
			h.say(t, "hello")

			s := waitFor(t, h.ctrl, "processing error", func(s Snapshot) bool {
				return s.Result.ConfidenceLevel == types.ProcessingError
			})
			if s.Result.SuggestedReply != tt.wantReply {
				t.Errorf("reply = %q, want %q", s.Result.SuggestedReply, tt.wantReply)
			}
		})
	}
}

func TestCaptureEnded_RestartsWhileActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.start(t)

	h.eng.End()
	waitFor(t, h.ctrl, "restart", func(Snapshot) bool { return h.eng.StartCallCount() == 2 })

	h.eng.StartErr = errors.New("mic gone")
	h.eng.End()
	s := waitFor(t, h.ctrl, "restart failure", func(s Snapshot) bool { return !s.Listening })
	if s.Status != StatusActive {
		t.Errorf("status = %s, want active after failed restart", s.Status)
	}
	if s.Error != MsgRestartFailed {
		t.Errorf("error = %q, want %q", s.Error, MsgRestartFailed)
	}
}

func TestCaptureError_KeepsSilenceTimer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.start(t)
	h.say(t, "hello")

	h.eng.Fail("no-speech")
	s := waitFor(t, h.ctrl, "error", func(s Snapshot) bool { return s.Error == "no-speech" })
	if s.Listening {
		t.Error("still listening after capture error")
	}
	h.flip(t)
}

func TestEndCall_PreservesResults(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Trigger: TriggerEvery})
	h.start(t)
	h.say(t, "hello")
	waitFor(t, h.ctrl, "result", func(s Snapshot) bool { return s.Result.ConfidenceLevel == types.Low })

	if err := h.ctrl.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	s := h.ctrl.Snapshot()
	if s.Status != StatusIdle || s.Listening {
		t.Errorf("status = %s listening = %v, want idle", s.Status, s.Listening)
	}
	if !s.Ended() {
		t.Error("Ended() = false for an idle call with a transcript")
	}
	if len(s.Transcript) != 1 || s.Result.ConfidenceLevel != types.Low {
		t.Errorf("transcript/result not preserved: %+v", s)
	}
	if h.eng.StopCallCount() != 1 {
		t.Errorf("engine stopped %d times, want 1", h.eng.StopCallCount())
	}

	// The engine confirms the stop; no restart happens.
	h.eng.End()
	if err := h.ctrl.EndCall(context.Background()); err != nil {
		t.Fatalf("second EndCall: %v", err)
	}
	if h.eng.StartCallCount() != 1 {
		t.Errorf("engine started %d times, want 1", h.eng.StartCallCount())
	}
}

func TestEndCall_NeverStarted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.eng.StopErr = capture.ErrNotStarted
	if err := h.ctrl.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if s := h.ctrl.Snapshot(); s.Status != StatusIdle || s.Ended() {
		t.Errorf("snapshot = %+v, want plain idle", s)
	}
}

func TestStart_ClearsPreviousCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Trigger: TriggerEvery})
	h.start(t)
	h.say(t, "first call")
	h.flip(t)
	waitFor(t, h.ctrl, "result", func(s Snapshot) bool { return s.Result.ConfidenceLevel == types.Low })
	if err := h.ctrl.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := h.ctrl.Snapshot()
	if len(s.Transcript) != 0 || len(s.Window) != 0 {
		t.Errorf("transcript not cleared: %+v", s.Transcript)
	}
	if s.Result != types.InitialResult() || s.Speaker != types.Receiver {
		t.Errorf("result = %+v speaker = %s, want initial values", s.Result, s.Speaker)
	}

	s = h.say(t, "second call")
	if s.Transcript[0].Sequence != 1 {
		t.Errorf("sequence = %d, want numbering to restart at 1", s.Transcript[0].Sequence)
	}
}

func TestReset_DiscardsInFlightClassification(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Trigger: TriggerEvery})
	h.cls.gate = make(chan struct{})
	h.cls.resp = &classify.Response{ConfidenceLevel: "Very High", SuggestedReply: "Hang up."}
	h.start(t)
	h.say(t, "send me gift cards")
	waitFor(t, h.ctrl, "dispatch", func(Snapshot) bool { return len(h.cls.conversations()) == 1 })

	if err := h.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	h.cls.gate <- struct{}{}

	// A fresh utterance after the reset is classified and applied; the stale
	// answer must not have been.
	h.cls.mu.Lock()
	h.cls.gate = nil
	h.cls.resp = &classify.Response{ConfidenceLevel: "Not Clear", SuggestedReply: "Ask for a callback number."}
	h.cls.mu.Unlock()
	h.say(t, "hello again")
	s := waitFor(t, h.ctrl, "fresh result", func(s Snapshot) bool { return s.Result.ConfidenceLevel != types.NotAnalyzed })
	if s.Result.ConfidenceLevel != types.NotClear {
		t.Errorf("level = %q, want the post-reset verdict", s.Result.ConfidenceLevel)
	}
	if s.Status != StatusActive {
		t.Errorf("status = %s, Reset must not end the call", s.Status)
	}
}

// lockedBuffer collects log output written from the controller's goroutines.
type lockedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// Not parallel: swaps the default logger.
func TestStaleClassification_LoggedWithCallIdentity(t *testing.T) {
	var logs lockedBuffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	eng := &capturemock.Engine{ReadyValue: true}
	cls := &fakeClassifier{gate: make(chan struct{}), resp: &classify.Response{ConfidenceLevel: "High"}}
	c := New("call-42", eng, cls, Config{Trigger: TriggerEvery}, WithClock(&clockmock.Clock{}))

	ctx, cancel := context.WithCancel(observe.WithCorrelationID(context.Background(), "corr-42"))
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run returned %v", err)
		}
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eng.Started()
	eng.Say("buy gift cards now")
	waitFor(t, c, "utterance", transcriptLen(1))
	waitFor(t, c, "dispatch", func(Snapshot) bool { return len(cls.conversations()) == 1 })

	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	cls.gate <- struct{}{}

	const msg = "dropping stale classification"
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logs.String(), msg) {
		if time.Now().After(deadline) {
			t.Fatalf("no stale drop logged; logs:\n%s", logs.String())
		}
		time.Sleep(time.Millisecond)
	}

	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if rec["msg"] != msg {
			continue
		}
		if rec["call_id"] != "call-42" {
			t.Errorf("call_id = %v, want call-42", rec["call_id"])
		}
		if rec["correlation_id"] != "corr-42" {
			t.Errorf("correlation_id = %v, want corr-42", rec["correlation_id"])
		}
		if rec["seq"] != float64(1) {
			t.Errorf("seq = %v, want 1", rec["seq"])
		}
		return
	}
	t.Fatal("stale drop line not found")
}

type savedSummaries struct {
	mu    sync.Mutex
	saved []string
}

func (s *savedSummaries) Save(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, text)
	return nil
}

func TestSummaryForwarding(t *testing.T) {
	t.Parallel()

	user, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"username": "alice"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	guest, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"guest": true}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		summary string
		want    int
	}{
		{"user", user, "Caller claims to be from the bank.", 1},
		{"guest", guest, "Caller claims to be from the bank.", 0},
		{"placeholder", user, types.NoSummary, 0},
		{"no summary", user, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			saver := &savedSummaries{}
			bridge := summary.NewBridge(saver, time.Second, nil)
			h := newHarness(t, Config{Trigger: TriggerEvery}, WithSummaryBridge(bridge), WithToken(tt.token))
			h.cls.resp = &classify.Response{ConfidenceLevel: "High", SuggestedReply: "Hang up.", Summary: tt.summary}
			h.start(t)
			h.say(t, "I am calling from your bank")
			waitFor(t, h.ctrl, "result", func(s Snapshot) bool { return s.Result.ConfidenceLevel == types.High })
			bridge.Wait()

			saver.mu.Lock()
			defer saver.mu.Unlock()
			if len(saver.saved) != tt.want {
				t.Fatalf("saves = %q, want %d", saver.saved, tt.want)
			}
			if tt.want == 1 && saver.saved[0] != tt.summary {
				t.Errorf("saved %q, want %q", saver.saved[0], tt.summary)
			}
		})
	}
}

func TestUpdates_Coalesce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.start(t)
	h.say(t, "one")
	h.say(t, "two")

	// Updates published while nobody read are collapsed into the latest one.
	deadline := time.After(time.Second)
	var last Snapshot
	for len(last.Transcript) != 2 {
		select {
		case last = <-h.ctrl.Updates():
		case <-deadline:
			t.Fatalf("no update with the latest state; last: %+v", last)
		}
	}
	select {
	case extra := <-h.ctrl.Updates():
		t.Errorf("unexpected second buffered update: %+v", extra)
	default:
	}
}

func TestClosedController(t *testing.T) {
	t.Parallel()

	c := New("c", &capturemock.Engine{ReadyValue: true}, &fakeClassifier{}, Config{}, WithClock(&clockmock.Clock{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := c.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after close = %v, want ErrClosed", err)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	if cfg.Silence != 1200*time.Millisecond || cfg.WindowSize != 8 || cfg.Trigger != TriggerCaller {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := (Config{Trigger: "sometimes"}).Validate(); err == nil || !strings.Contains(err.Error(), "sometimes") {
		t.Errorf("Validate = %v, want unknown trigger error", err)
	}
	if err := (Config{Trigger: TriggerEvery}).Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
}

func TestCorrector_FixesFinals(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, WithCorrector(transcript.NewCorrector([]string{"IRS", "gift card"})))
	h.start(t)

	s := h.say(t, "this is the irs, buy a gift cart")
	if got, want := s.Transcript[0].Text, "this is the IRS, buy a gift card"; got != want {
		t.Errorf("utterance = %q, want %q", got, want)
	}
}
