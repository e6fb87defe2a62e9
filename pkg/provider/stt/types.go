package stt

// Transcript is a speech-to-text result. Both partial and final transcripts
// use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal marks an authoritative result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0-1.0). Zero when the
	// provider does not report one.
	Confidence float64
}
