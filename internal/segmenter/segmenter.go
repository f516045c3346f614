// Package segmenter turns a live stream of PCM16 chunks into completed
// utterance segments.
//
// Each session runs a two-state machine over fixed-size frames:
//
//	IDLE --speech--> SPEAKING --(hangover+1 silent frames)--> IDLE (emit)
//
// Silence while speaking is kept in the utterance so trailing syllables are
// not clipped; silence while idle is dropped. A completed utterance is
// band-passed and peak-normalized as a whole, then emitted unless its voiced
// part is shorter than the configured floor.
//
// Process drains every segment that completes within a chunk, in order,
// rather than stopping after the first.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrUnavailable is returned when no frame classifier can be attached to a
// session. Every later call for that session returns it again.
var ErrUnavailable = errors.New("segmenter: voice activity engine unavailable")

// Defaults.
const (
	DefaultSampleRate     = 16000
	DefaultFrameMs        = 30
	DefaultHangoverFrames = 20
	DefaultMinVoiced      = 500 * time.Millisecond
	DefaultVADMode        = 3
)

// Config holds the segmentation parameters.
type Config struct {
	SampleRate int
	FrameMs    int

	// HangoverFrames is the number of consecutive silent frames tolerated
	// inside an utterance. The segment completes on the next silent frame.
	HangoverFrames int

	// MinVoiced is the floor on the voiced duration of an emitted segment.
	MinVoiced time.Duration

	// LowCutHz and HighCutHz bound the preprocessing band-pass.
	LowCutHz  float64
	HighCutHz float64

	// Prefilter runs each frame through a streaming band-pass before
	// classification. The buffered audio is never prefiltered.
	Prefilter bool

	// VADMode and EnergyThreshold are passed through to the classifier.
	VADMode         int
	EnergyThreshold float64
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameMs <= 0 {
		c.FrameMs = DefaultFrameMs
	}
	if c.HangoverFrames <= 0 {
		c.HangoverFrames = DefaultHangoverFrames
	}
	if c.MinVoiced <= 0 {
		c.MinVoiced = DefaultMinVoiced
	}
	if c.LowCutHz == 0 && c.HighCutHz == 0 {
		c.LowCutHz, c.HighCutHz = audio.DefaultLowCutHz, audio.DefaultHighCutHz
	}
	return c
}

// FrameBytes returns the size of one frame in bytes.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameMs / 1000 * audio.BytesPerSample
}

// Completed is one finished utterance.
type Completed struct {
	SessionID string

	// Seq numbers the segments of a session from 1 in detection order.
	Seq uint64

	// Audio is the preprocessed utterance including its trailing silence.
	Audio []byte

	// Voiced is the duration up to the end of the last speech frame.
	Voiced time.Duration

	// EndedAt is the wall time the segment completed.
	EndedAt time.Time
}

// Segmenter applies the state machine to session states. It holds no
// per-session data itself and is safe for concurrent use across sessions.
type Segmenter struct {
	cfg     Config
	engine  vad.Engine
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// WithClock overrides the time source used for Completed.EndedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// New creates a Segmenter that classifies frames with engine. A nil engine
// is accepted; every session then reports ErrUnavailable.
func New(engine vad.Engine, cfg Config, opts ...Option) *Segmenter {
	s := &Segmenter{
		cfg:     cfg.withDefaults(),
		engine:  engine,
		metrics: observe.DefaultMetrics(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// Attach prepares st for processing by opening a classifier session and,
// when enabled, a streaming prefilter. It is idempotent.
func (s *Segmenter) Attach(st *session.State) error {
	st.Lock()
	defer st.Unlock()
	return s.attachLocked(st)
}

func (s *Segmenter) attachLocked(st *session.State) error {
	if st.Classifier != nil {
		return nil
	}
	if s.engine == nil {
		return ErrUnavailable
	}
	cls, err := s.engine.NewSession(vad.Config{
		SampleRate:      s.cfg.SampleRate,
		FrameSizeMs:     s.cfg.FrameMs,
		Mode:            s.cfg.VADMode,
		EnergyThreshold: s.cfg.EnergyThreshold,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	st.Classifier = cls
	if s.cfg.Prefilter {
		st.Prefilter = audio.NewBandPass(s.cfg.SampleRate, s.cfg.LowCutHz, s.cfg.HighCutHz)
	}
	return nil
}

// Process appends chunk to the session's raw buffer, classifies every
// complete frame, and returns the segments that completed, oldest first.
// Bytes short of a full frame stay buffered for the next call.
func (s *Segmenter) Process(st *session.State, chunk []byte) ([]Completed, error) {
	st.Lock()
	defer st.Unlock()

	if err := s.attachLocked(st); err != nil {
		return nil, err
	}
	if st.Converter != nil {
		chunk = st.Converter.Convert(chunk)
	}
	st.Raw = append(st.Raw, chunk...)

	frameBytes := s.cfg.FrameBytes()
	var (
		out []Completed
		off int
	)
	for ; off+frameBytes <= len(st.Raw); off += frameBytes {
		if c, ok := s.step(st, st.Raw[off:off+frameBytes]); ok {
			out = append(out, c)
		}
	}
	st.Raw = append(st.Raw[:0:0], st.Raw[off:]...)
	return out, nil
}

// step advances the state machine by one frame.
func (s *Segmenter) step(st *session.State, frame []byte) (Completed, bool) {
	ctx := context.Background()

	input := frame
	if st.Prefilter != nil {
		input = st.Prefilter.ApplyPCM(frame)
	}
	ev, err := st.Classifier.ProcessFrame(input)
	switch {
	case err != nil:
		// Unclassifiable frames count as silence.
		s.metrics.RecordFrame(ctx, observe.FrameInvalid)
		slog.Debug("segmenter: treating unclassifiable frame as silence", "session_id", st.ID, "err", err)
	case ev.Speech:
		s.metrics.RecordFrame(ctx, observe.FrameSpeech)
		st.SilenceFrames = 0
		st.Speaking = true
		st.Speech = append(st.Speech, frame...)
		st.VoicedBytes = len(st.Speech)
		return Completed{}, false
	default:
		s.metrics.RecordFrame(ctx, observe.FrameSilence)
	}

	if !st.Speaking {
		return Completed{}, false
	}
	st.Speech = append(st.Speech, frame...)
	st.SilenceFrames++
	if st.SilenceFrames <= s.cfg.HangoverFrames {
		return Completed{}, false
	}
	return s.complete(st)
}

// complete finalises the in-progress utterance and resets the state to idle.
func (s *Segmenter) complete(st *session.State) (Completed, bool) {
	raw, voicedBytes := st.Speech, st.VoicedBytes
	st.ResetSpeech()

	voiced := audio.Duration(raw[:voicedBytes], s.cfg.SampleRate)
	if voiced < s.cfg.MinVoiced {
		s.metrics.RecordDiscard(context.Background(), observe.DiscardTooShort)
		slog.Debug("segmenter: discarding short segment", "session_id", st.ID, "voiced", voiced)
		return Completed{}, false
	}

	processed := audio.FilterAndNormalize(raw, s.cfg.SampleRate, s.cfg.LowCutHz, s.cfg.HighCutHz)
	s.metrics.SegmentsEmitted.Add(context.Background(), 1)
	return Completed{
		SessionID: st.ID,
		Seq:       st.NextSeq(),
		Audio:     processed,
		Voiced:    voiced,
		EndedAt:   s.now(),
	}, true
}

// Flush completes the in-progress utterance, if any, as though the hangover
// had elapsed. Used when a session ends mid-utterance.
func (s *Segmenter) Flush(st *session.State) (Completed, bool) {
	st.Lock()
	defer st.Unlock()
	if !st.Speaking {
		return Completed{}, false
	}
	return s.complete(st)
}
