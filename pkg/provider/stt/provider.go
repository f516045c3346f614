// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (a whisper.cpp server,
// the in-process whisper.cpp bindings, or a hosted API) and exposes a single
// Transcribe call: raw PCM in, text out. Segmentation happens upstream, so a
// provider only ever sees one finished utterance at a time.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when Transcribe is called with no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request carries recognition hints for one Transcribe call.
type Request struct {
	// Language is a BCP-47 or ISO 639-1 language code (e.g. "en", "de").
	// Empty lets the provider auto-detect or use its configured default.
	Language string

	// SampleRate is the rate of the PCM in Hz. Zero means 16000.
	SampleRate int
}

// Result is the transcription of one clip.
type Result struct {
	// Text is the recognised speech. Empty when nothing was recognised.
	Text string

	// Language is the detected or requested language. May be empty.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe converts mono PCM16 little-endian audio to text.
	//
	// Returns an error if the backend is unreachable, rejects the audio, or
	// ctx is cancelled. A successful call with no recognised speech returns a
	// Result with empty Text and a nil error.
	Transcribe(ctx context.Context, pcm []byte, req Request) (Result, error)
}
