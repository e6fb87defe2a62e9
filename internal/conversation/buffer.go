// Package conversation accumulates labelled utterances into the call
// transcript and keeps the bounded trailing window sent to the classifier.
package conversation

import (
	"strings"

	"github.com/MrWong99/scamguard/pkg/types"
)

// DefaultWindowSize is the number of trailing utterances sent for
// classification.
const DefaultWindowSize = 8

// Buffer holds the append-only transcript of one call and its trailing
// window. The window is recomputed as a fresh slice on every append, so a
// window handed out earlier never changes underneath its holder.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	size       int
	transcript []types.Utterance
	window     []types.Utterance
}

// NewBuffer returns a Buffer whose window holds at most size utterances.
// A non-positive size selects DefaultWindowSize.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Buffer{size: size}
}

// Append adds u to the transcript and recomputes the window.
func (b *Buffer) Append(u types.Utterance) {
	b.transcript = append(b.transcript, u)

	start := max(len(b.transcript)-b.size, 0)
	window := make([]types.Utterance, len(b.transcript)-start)
	copy(window, b.transcript[start:])
	b.window = window
}

// Len returns the number of utterances in the transcript.
func (b *Buffer) Len() int { return len(b.transcript) }

// Size returns the window capacity.
func (b *Buffer) Size() int { return b.size }

// Window returns a copy of the trailing window.
func (b *Buffer) Window() []types.Utterance {
	return clone(b.window)
}

// Transcript returns a copy of the full transcript.
func (b *Buffer) Transcript() []types.Utterance {
	return clone(b.transcript)
}

// Reset clears the transcript and the window.
func (b *Buffer) Reset() {
	b.transcript = nil
	b.window = nil
}

// Render formats utterances as "<Speaker>: <text>" lines joined by newlines.
func Render(utterances []types.Utterance) string {
	var sb strings.Builder
	for i, u := range utterances {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(u.String())
	}
	return sb.String()
}

func clone(us []types.Utterance) []types.Utterance {
	if len(us) == 0 {
		return nil
	}
	out := make([]types.Utterance, len(us))
	copy(out, us)
	return out
}
