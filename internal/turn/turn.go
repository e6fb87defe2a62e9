// Package turn attributes finalized utterances to a speaker.
//
// The capture engine does not label speakers, so turn-taking is inferred from
// pauses: every utterance is attributed to the current speaker and restarts a
// silence timer; when the timer runs out before the next utterance, the
// current speaker flips. Utterances arriving faster than the silence window
// therefore stay with the same speaker.
//
// A Segmenter is not safe for concurrent use. It is owned by the call
// controller's event loop. Timer expiry runs on a clock goroutine and must
// not touch the Segmenter; the expiry callback receives the timer generation
// and the owner later applies it with Expire on its own goroutine.
package turn

import (
	"time"

	"github.com/MrWong99/scamguard/pkg/types"
)

// DefaultSilence is the pause after which the speaker is assumed to change.
const DefaultSilence = 1200 * time.Millisecond

// State is the segmenter's timer state.
type State int

const (
	// WaitingForUtterance means no silence timer is pending.
	WaitingForUtterance State = iota

	// SilencePending means a silence timer is running.
	SilencePending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case WaitingForUtterance:
		return "waiting_for_utterance"
	case SilencePending:
		return "silence_pending"
	default:
		return "unknown"
	}
}

// Segmenter is the turn segmentation state machine.
type Segmenter struct {
	silence time.Duration
	clock   Clock
	onTimer func(gen uint64)

	speaker types.Speaker
	seq     int
	gen     uint64
	timer   Timer
}

// New returns a Segmenter starting with the Receiver. onTimer is invoked on
// the clock's goroutine when a silence timer fires; it should hand gen back
// to the owner, which calls Expire. A non-positive silence selects
// DefaultSilence and a nil clock selects SystemClock.
func New(silence time.Duration, clock Clock, onTimer func(gen uint64)) *Segmenter {
	if silence <= 0 {
		silence = DefaultSilence
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Segmenter{
		silence: silence,
		clock:   clock,
		onTimer: onTimer,
		speaker: types.Receiver,
	}
}

// Speaker returns the current speaker.
func (s *Segmenter) Speaker() types.Speaker { return s.speaker }

// State returns whether a silence timer is pending.
func (s *Segmenter) State() State {
	if s.timer != nil {
		return SilencePending
	}
	return WaitingForUtterance
}

// Silence returns the configured silence window.
func (s *Segmenter) Silence() time.Duration { return s.silence }

// Accept attributes text to the current speaker and restarts the silence
// timer.
func (s *Segmenter) Accept(text string) types.Utterance {
	s.seq++
	u := types.Utterance{Speaker: s.speaker, Text: text, Sequence: s.seq}

	s.Cancel()
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.silence, func() {
		if s.onTimer != nil {
			s.onTimer(gen)
		}
	})
	return u
}

// Expire applies a fired timer. It flips the speaker and clears the timer
// only when gen is the pending timer; stale expiries (the timer was cancelled
// or replaced after it fired) are ignored. It reports whether a flip happened.
func (s *Segmenter) Expire(gen uint64) bool {
	if s.timer == nil || gen != s.gen {
		return false
	}
	s.timer = nil
	s.speaker = s.speaker.Other()
	return true
}

// Cancel stops the pending silence timer, if any.
func (s *Segmenter) Cancel() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}

// Reset cancels the timer, restarts sequence numbering and sets the current
// speaker.
func (s *Segmenter) Reset(start types.Speaker) {
	s.Cancel()
	s.seq = 0
	s.speaker = start
}
