// Package types defines the shared types used across all earshot packages.
//
// These types form the lingua franca between providers, the segmenter, the
// identity resolver, storage backends, and the pipeline orchestrator. Each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// FingerprintDims is the dimensionality of a voice fingerprint: 13 MFCCs plus
// their first and second order deltas.
const FingerprintDims = 39

// VoiceProfile is a persisted speaker identity keyed by its fingerprint.
//
// Profiles are created by the identity resolver when no stored profile is
// similar enough to an incoming fingerprint. Only Name and UpdatedAt change
// afterwards; matching never mutates a profile.
type VoiceProfile struct {
	// ID has the form "speaker_N".
	ID string

	// Name is the human-readable display name. New profiles start as
	// "Unknown Speaker N" until an operator renames them.
	Name string

	// Fingerprint is the 39-dimensional voice embedding.
	Fingerprint []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one contiguous stretch of a clip attributed to a single diarization
// label. Start and End are seconds relative to the start of the clip.
type Turn struct {
	Start float64
	End   float64

	// Label is the diarizer's anonymous speaker label (e.g. "SPEAKER_00").
	// Labels are only stable within a single diarization call.
	Label string
}

// Duration returns the length of the turn in seconds.
func (t Turn) Duration() float64 { return t.End - t.Start }

// Features holds the paralinguistic measurements of one segment.
type Features struct {
	// Pitch is the estimated fundamental frequency in Hz, or 0 when unvoiced.
	Pitch float64 `json:"pitch"`

	// Energy is the RMS amplitude normalised to [0, 1].
	Energy float64 `json:"energy"`

	// Duration is the clip length in seconds.
	Duration float64 `json:"duration"`

	// SpeechRate is the number of onset peaks per second.
	SpeechRate float64 `json:"speech_rate"`
}

// Analysis is the result of running a segment through the LLM analyzer.
type Analysis struct {
	// Structured is the machine-readable part of the model output. Its shape
	// is defined by the analysis prompt and is not interpreted by earshot.
	Structured map[string]any `json:"structured"`

	// Report is the human-readable markdown part of the model output.
	Report string `json:"report"`

	// Mode records which analysis path produced this result: "deep",
	// "quick", or "none".
	Mode string `json:"mode,omitempty"`
}

// IsZero reports whether the analysis carries no content.
func (a Analysis) IsZero() bool {
	return len(a.Structured) == 0 && a.Report == ""
}

// Segment is one transcribed, attributed and analysed utterance.
//
// After creation only SpeakerID, SpeakerName, CharacterID, Analysis, Rating
// and Feedback may change. Segments with empty Text are never persisted.
type Segment struct {
	ID        int64
	SessionID string
	Text      string

	SpeakerID   string
	SpeakerName string

	// CharacterID links the segment to a known character when the speaker's
	// name matches one. Nil when no character matched.
	CharacterID *string

	// StartTime and EndTime are seconds within the source clip.
	StartTime float64
	EndTime   float64

	// Emotion maps emotion labels to scores, top three only.
	Emotion map[string]float64

	Features Features
	Analysis Analysis

	// AudioPath is the archived WAV file the segment was cut from.
	AudioPath string

	// Rating is an operator quality score in [1, 5]. Nil when unrated.
	Rating   *int
	Feedback string

	CreatedAt time.Time
}

// HistoryLine renders the segment as a "speaker: text" line for analysis
// prompts.
func (s Segment) HistoryLine() string {
	return s.SpeakerName + ": " + s.Text
}
