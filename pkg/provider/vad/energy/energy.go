// Package energy provides a dependency-free vad.Engine that classifies a
// frame as speech when its RMS level exceeds a fixed threshold.
//
// It is the fallback classifier when the WebRTC detector is not available
// and the deterministic classifier used by pipeline tests.
package energy

import (
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultThreshold is the RMS level, in PCM16 sample units, used when the
// config leaves EnergyThreshold unset.
const DefaultThreshold = 500.0

// Engine creates energy-gate sessions.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession returns a session classifying frames of cfg.FrameBytes() bytes.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.FrameBytes() <= 0 {
		return nil, fmt.Errorf("energy vad: invalid frame config %d Hz / %d ms", cfg.SampleRate, cfg.FrameSizeMs)
	}
	threshold := cfg.EnergyThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &session{frameBytes: cfg.FrameBytes(), threshold: threshold}, nil
}

var _ vad.Engine = Engine{}

type session struct {
	frameBytes int
	threshold  float64
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame) != s.frameBytes {
		return vad.Silence, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}
	level := audio.RMS(frame)
	if level > s.threshold {
		return vad.VADEvent{Speech: true, Probability: min(1, level/(4*s.threshold))}, nil
	}
	return vad.VADEvent{Probability: level / (4 * s.threshold)}, nil
}

func (s *session) Reset() {}

func (s *session) Close() error { return nil }
