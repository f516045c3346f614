package vad

// VADEvent is the classification of a single audio frame.
type VADEvent struct {
	// Speech reports whether the frame contains speech.
	Speech bool

	// Probability is the speech probability score (0.0–1.0). Binary
	// classifiers report 0 or 1.
	Probability float64
}

// Silence is the event for a non-speech frame.
var Silence = VADEvent{}

// SpeechEvent is the event for a speech frame from a binary classifier.
var SpeechEvent = VADEvent{Speech: true, Probability: 1}
