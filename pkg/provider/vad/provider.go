// Package vad defines the Engine interface for frame-level voice activity
// classifiers.
//
// A VAD engine wraps a frame classifier (WebRTC's GMM detector, an energy
// gate, or a custom model) and surfaces it as a stateful, per-stream session,
// so multiple concurrent audio streams can be processed independently.
// Segmentation (hangover, minimum length, buffering) is not the engine's
// concern; see internal/segmenter.
//
// ProcessFrame is synchronous and returns without blocking on I/O, so it can
// run on the live ingest path.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

import "errors"

// ErrFrameSize is returned when a frame does not match the configured
// duration.
var ErrFrameSize = errors.New("vad: frame size does not match config")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. WebRTC supports 8000, 16000, 32000
	// and 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// WebRTC accepts 10, 20 or 30 ms.
	FrameSizeMs int

	// Mode is the classifier aggressiveness from 0 (least) to 3 (most
	// aggressive at rejecting non-speech). Engines without a notion of
	// aggressiveness ignore it.
	Mode int

	// EnergyThreshold is the RMS level, in PCM16 sample units, above which
	// energy-based classifiers treat a frame as speech.
	EnergyThreshold float64
}

// FrameBytes returns the size in bytes of one mono PCM16 frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies a single frame of raw little-endian PCM16 at the
	// configured rate and frame size. It returns ErrFrameSize for a frame of
	// the wrong length. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears any smoothing state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously.
type Engine interface {
	// NewSession creates a new VAD session. It returns an error if the
	// configuration is not supported by the backend.
	NewSession(cfg Config) (SessionHandle, error)
}
