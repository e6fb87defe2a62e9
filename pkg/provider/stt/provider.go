// Package stt defines the Provider interface for server-side Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. Once opened, a session accepts raw PCM
// audio frames and emits two streams of Transcript values: low-latency partials
// and authoritative finals. The call assistant only ever scores finals.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Browsers capturing through an
	// AudioWorklet typically downsample to 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string selects the provider default.
	Language string

	// Keywords are vocabulary hints (e.g., "gift card", "wire transfer") that
	// raise recognition probability for terms common in scam calls.
	Keywords []string
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit PCM audio. Calling SendAudio
	// after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends, which
	// is how consumers learn that the provider stopped listening.
	Finals() <-chan Transcript

	// Err returns the error that ended the session, or nil if it ended
	// normally or is still running. Only meaningful after Finals is closed.
	Err() error

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
