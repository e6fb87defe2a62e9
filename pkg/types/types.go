// Package types defines the shared types used across all scamguard packages.
//
// These types are the common vocabulary between the capture adapters, the call
// controller, the classification dispatcher and the collaborator services. Each
// package defines its own domain types; cross-cutting data structures live here
// to avoid circular imports.
package types

import "fmt"

// Speaker is the role an utterance is attributed to. The capture engine does not
// label speakers; attribution is inferred by the turn segmenter.
type Speaker string

const (
	// Caller is the party placing the call, the one whose statements are scored.
	Caller Speaker = "Caller"

	// Receiver is the user of the assistant. Every call starts with the Receiver.
	Receiver Speaker = "Receiver"
)

// IsValid reports whether s is one of the two known speakers.
func (s Speaker) IsValid() bool {
	return s == Caller || s == Receiver
}

// Other returns the opposite speaker. Unknown values flip to Caller.
func (s Speaker) Other() Speaker {
	if s == Caller {
		return Receiver
	}
	return Caller
}

// Utterance is one finalized speech-to-text result attributed to a speaker.
// Utterances are immutable once created and appended to the transcript in
// arrival order.
type Utterance struct {
	// Speaker is the role current at the moment the utterance was finalized.
	Speaker Speaker `json:"speaker"`

	// Text is the trimmed transcript text.
	Text string `json:"text"`

	// Sequence is the 1-based position of the utterance within its call.
	Sequence int `json:"sequence"`
}

// String renders the utterance as a "<Speaker>: <text>" conversation line.
func (u Utterance) String() string {
	return fmt.Sprintf("%s: %s", u.Speaker, u.Text)
}

// ConfidenceLevel is the ordinal scam-risk label returned by the classifier.
type ConfidenceLevel string

const (
	VeryHigh         ConfidenceLevel = "Very High"
	High             ConfidenceLevel = "High"
	NotClear         ConfidenceLevel = "Not Clear"
	Low              ConfidenceLevel = "Low"
	VeryLow          ConfidenceLevel = "Very Low"
	InsufficientData ConfidenceLevel = "Insufficient Data"
	ProcessingError  ConfidenceLevel = "Processing Error"
)

// NotAnalyzed is the level displayed before any classification result arrived.
// It is a display placeholder, not one of the seven classifier levels.
const NotAnalyzed ConfidenceLevel = "Not analyzed yet"

// NoReplySuggested is the reply displayed before any classification result arrived.
const NoReplySuggested = "No reply suggested."

// Placeholders the classification service fills in when the model omitted a
// field.
const (
	NoReplyNeeded = "No reply needed."
	NoSummary     = "No summary available."
)

var validLevels = map[ConfidenceLevel]bool{
	VeryHigh:         true,
	High:             true,
	NotClear:         true,
	Low:              true,
	VeryLow:          true,
	InsufficientData: true,
	ProcessingError:  true,
}

// IsValid reports whether l is one of the seven classifier levels.
func (l ConfidenceLevel) IsValid() bool {
	return validLevels[l]
}

// IsModelLevel reports whether l is one of the five levels the classification
// model itself may emit. InsufficientData and ProcessingError are produced by
// the service, never by the model.
func (l ConfidenceLevel) IsModelLevel() bool {
	return l.IsValid() && l != InsufficientData && l != ProcessingError
}

// Badge is the display colour pair for a confidence level.
type Badge struct {
	Background string `json:"background"`
	Foreground string `json:"foreground"`
}

// Class returns the combined CSS class string, e.g. "bg-red-500 text-white".
func (b Badge) Class() string {
	return b.Background + " " + b.Foreground
}

var badges = map[ConfidenceLevel]Badge{
	VeryHigh:         {Background: "bg-red-500", Foreground: "text-white"},
	High:             {Background: "bg-orange-400", Foreground: "text-white"},
	NotClear:         {Background: "bg-yellow-400", Foreground: "text-black"},
	Low:              {Background: "bg-lime-500", Foreground: "text-white"},
	VeryLow:          {Background: "bg-green-500", Foreground: "text-white"},
	InsufficientData: {Background: "bg-gray-300", Foreground: "text-black"},
	ProcessingError:  {Background: "bg-red-700", Foreground: "text-white"},
}

var defaultBadge = Badge{Background: "bg-gray-200", Foreground: "text-black"}

// Badge returns the fixed display colours for l. Unknown levels, including
// NotAnalyzed, get the neutral grey badge.
func (l ConfidenceLevel) Badge() Badge {
	if b, ok := badges[l]; ok {
		return b
	}
	return defaultBadge
}

// ClassificationResult is the latest classifier verdict held as display state.
// It is never historized by the call controller.
type ClassificationResult struct {
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	SuggestedReply  string          `json:"suggested_reply"`

	// Summary is the classifier's conversation summary. Empty when the
	// classifier did not produce one.
	Summary string `json:"summary,omitempty"`
}

// InitialResult returns the display state shown before the first verdict.
func InitialResult() ClassificationResult {
	return ClassificationResult{
		ConfidenceLevel: NotAnalyzed,
		SuggestedReply:  NoReplySuggested,
	}
}
