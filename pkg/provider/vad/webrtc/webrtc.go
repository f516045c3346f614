// Package webrtc provides a vad.Engine backed by the WebRTC GMM voice
// activity detector.
//
// Each session owns its own detector instance. When the detector rejects a
// frame it falls back to an RMS energy gate so a transient library error
// never stalls the stream.
package webrtc

import (
	"fmt"
	"sync"

	"github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultFallbackThreshold is the RMS level used when the detector errors
// and no EnergyThreshold is configured.
const DefaultFallbackThreshold = 500.0

var (
	validRates  = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}
	validFrames = map[int]bool{10: true, 20: true, 30: true}
)

// Engine creates WebRTC VAD sessions.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and allocates a detector for a single stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if !validRates[cfg.SampleRate] {
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d", cfg.SampleRate)
	}
	if !validFrames[cfg.FrameSizeMs] {
		return nil, fmt.Errorf("webrtc vad: unsupported frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.Mode < 0 || cfg.Mode > 3 {
		return nil, fmt.Errorf("webrtc vad: mode %d out of range [0, 3]", cfg.Mode)
	}

	det, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create detector: %w", err)
	}
	if err := det.SetMode(cfg.Mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Mode, err)
	}

	threshold := cfg.EnergyThreshold
	if threshold <= 0 {
		threshold = DefaultFallbackThreshold
	}
	return &session{
		det:        det,
		rate:       cfg.SampleRate,
		frameBytes: cfg.FrameBytes(),
		threshold:  threshold,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu         sync.Mutex
	det        *webrtcvad.VAD
	rate       int
	frameBytes int
	threshold  float64
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame) != s.frameBytes {
		return vad.Silence, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Silence, fmt.Errorf("webrtc vad: session closed")
	}
	speech, err := s.det.Process(s.rate, frame)
	if err != nil {
		speech = audio.RMS(frame) > s.threshold
	}
	if speech {
		return vad.SpeechEvent, nil
	}
	return vad.Silence, nil
}

// Reset is a no-op: the WebRTC detector adapts continuously and exposes no
// reset without reallocation.
func (s *session) Reset() {}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.det = nil
	return nil
}
