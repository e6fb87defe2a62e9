package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/scamguard/pkg/provider/capture"
	"github.com/MrWong99/scamguard/pkg/provider/capture/relay"
)

type recorder struct {
	mu      sync.Mutex
	signals []string
	results [][]capture.Result
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

func (r *recorder) OnStart()              { r.add("start") }
func (r *recorder) OnError(reason string) { r.add("error:" + reason) }
func (r *recorder) OnEnd()                { r.add("end") }
func (r *recorder) OnResult(res []capture.Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.add("result")
}

type sentCommands struct {
	mu   sync.Mutex
	cmds []relay.Command
	err  error
}

func (s *sentCommands) send(_ context.Context, cmd relay.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return s.err
}

func TestEngine_StartBeforeReady(t *testing.T) {
	t.Parallel()

	sent := &sentCommands{}
	eng := relay.New(sent.send)

	if eng.Ready() {
		t.Fatal("Ready() = true before the browser reported ready")
	}
	if err := eng.Start(context.Background()); !errors.Is(err, capture.ErrNotReady) {
		t.Fatalf("Start() = %v, want ErrNotReady", err)
	}
	if len(sent.cmds) != 0 {
		t.Errorf("sent %d commands, want 0", len(sent.cmds))
	}
}

func TestEngine_StartStopAfterReady(t *testing.T) {
	t.Parallel()

	sent := &sentCommands{}
	eng := relay.New(sent.send)
	if err := eng.Deliver(relay.Event{Type: relay.EventReady}); err != nil {
		t.Fatalf("Deliver(ready): %v", err)
	}
	if !eng.Ready() {
		t.Fatal("Ready() = false after ready event")
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{relay.ActionStart, relay.ActionStop}
	if len(sent.cmds) != len(want) {
		t.Fatalf("sent %d commands, want %d", len(sent.cmds), len(want))
	}
	for i, a := range want {
		if sent.cmds[i].Action != a {
			t.Errorf("command[%d] = %q, want %q", i, sent.cmds[i].Action, a)
		}
	}
}

func TestEngine_SendFailure(t *testing.T) {
	t.Parallel()

	sent := &sentCommands{err: errors.New("socket closed")}
	eng := relay.New(sent.send)
	_ = eng.Deliver(relay.Event{Type: relay.EventReady})

	if err := eng.Start(context.Background()); err == nil {
		t.Fatal("Start() = nil, want send error")
	}
	if err := eng.Stop(); err == nil {
		t.Fatal("Stop() = nil, want send error")
	}
}

func TestEngine_Unsupported(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	eng := relay.New((&sentCommands{}).send)
	eng.Bind(rec)

	_ = eng.Deliver(relay.Event{Type: relay.EventReady})
	if !capture.Supported(eng) {
		t.Fatal("Supported() = false before the browser reported anything")
	}
	if err := eng.Deliver(relay.Event{Type: relay.EventUnsupported}); err != nil {
		t.Fatalf("Deliver(unsupported): %v", err)
	}

	if eng.Ready() {
		t.Error("Ready() = true for an unsupported browser")
	}
	if capture.Supported(eng) {
		t.Error("Supported() = true for an unsupported browser")
	}
	if err := eng.Start(context.Background()); !errors.Is(err, capture.ErrNotSupported) {
		t.Errorf("Start() = %v, want ErrNotSupported", err)
	}
	if len(rec.signals) != 1 || rec.signals[0] != "error:"+relay.UnsupportedReason {
		t.Errorf("signals = %v, want single unsupported error", rec.signals)
	}
}

func TestEngine_DeliverForwardsSignals(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	eng := relay.New((&sentCommands{}).send)
	eng.Bind(rec)

	events := []relay.Event{
		{Type: relay.EventStart},
		{Type: relay.EventResult, Results: []capture.Result{{IsFinal: true, Text: "hello"}}},
		{Type: relay.EventError, Reason: "network"},
		{Type: relay.EventError},
		{Type: relay.EventEnd},
	}
	for _, ev := range events {
		if err := eng.Deliver(ev); err != nil {
			t.Fatalf("Deliver(%s): %v", ev.Type, err)
		}
	}

	want := []string{"start", "result", "error:network", "error:Speech recognition error", "end"}
	if len(rec.signals) != len(want) {
		t.Fatalf("signals = %v, want %v", rec.signals, want)
	}
	for i := range want {
		if rec.signals[i] != want[i] {
			t.Errorf("signal[%d] = %q, want %q", i, rec.signals[i], want[i])
		}
	}
	if got := rec.results[0][0].Text; got != "hello" {
		t.Errorf("result text = %q, want %q", got, "hello")
	}
}

func TestEngine_UnknownEvent(t *testing.T) {
	t.Parallel()

	eng := relay.New((&sentCommands{}).send)
	if err := eng.Deliver(relay.Event{Type: "bogus"}); err == nil {
		t.Error("Deliver(bogus) = nil, want error")
	}
}
