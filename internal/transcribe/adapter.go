// Package transcribe turns a completed speech segment into attributed
// utterances by combining an external diarizer with an external ASR backend.
//
// The [Adapter] first asks the diarizer who spoke when. Each turn long enough
// to carry words is cut out of the clip and transcribed on its own. When
// diarization fails or yields nothing, the whole clip is transcribed as a
// single anonymous utterance instead. Transcripts that are empty or contain a
// known ASR hallucination are dropped.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/diarize"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

// DefaultMinTurn is the shortest diarization turn that is transcribed.
const DefaultMinTurn = 500 * time.Millisecond

// Utterance is one transcribed stretch of a clip.
type Utterance struct {
	// Start and End are seconds relative to the start of the clip.
	Start float64
	End   float64

	// Label is the diarizer's speaker label, empty for the whole-clip
	// fallback.
	Label string

	Text string

	// Audio is the slice of the clip the text was transcribed from.
	Audio []byte
}

// Adapter runs diarization and transcription for one clip at a time. It is
// safe for concurrent use as long as its providers are.
type Adapter struct {
	stt      stt.Provider
	diarizer diarize.Provider
	filter   *Filter
	metrics  *observe.Metrics

	sampleRate       int
	language         string
	minTurn          time.Duration
	expectedSpeakers int
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithDiarizer sets the diarization backend. Without one every clip takes
// the whole-clip path.
func WithDiarizer(d diarize.Provider) Option {
	return func(a *Adapter) { a.diarizer = d }
}

// WithFilter replaces the default hallucination filter.
func WithFilter(f *Filter) Option {
	return func(a *Adapter) { a.filter = f }
}

// WithLanguage sets the BCP-47 language hint passed to the transcriber.
func WithLanguage(lang string) Option {
	return func(a *Adapter) { a.language = lang }
}

// WithSampleRate sets the rate of the PCM passed to Run. Default 16000.
func WithSampleRate(rate int) Option {
	return func(a *Adapter) {
		if rate > 0 {
			a.sampleRate = rate
		}
	}
}

// WithMinTurn sets the shortest turn worth transcribing.
func WithMinTurn(d time.Duration) Option {
	return func(a *Adapter) { a.minTurn = d }
}

// WithExpectedSpeakers passes a speaker count hint to the diarizer.
func WithExpectedSpeakers(n int) Option {
	return func(a *Adapter) { a.expectedSpeakers = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// New creates an Adapter around the given transcriber.
func New(transcriber stt.Provider, opts ...Option) *Adapter {
	a := &Adapter{
		stt:        transcriber,
		diarizer:   diarize.Noop{},
		filter:     NewFilter(DefaultHallucinations),
		metrics:    observe.DefaultMetrics(),
		sampleRate: 16000,
		minTurn:    DefaultMinTurn,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run diarizes and transcribes pcm, a mono PCM16 clip. Utterances are
// returned in clip order.
//
// Per-turn transcription failures skip that turn. An error is returned only
// when the context ends or the whole-clip fallback itself fails.
func (a *Adapter) Run(ctx context.Context, pcm []byte) ([]Utterance, error) {
	turns := a.diarize(ctx, pcm)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Utterance
	for _, turn := range turns {
		if time.Duration(turn.Duration()*float64(time.Second)) < a.minTurn {
			continue
		}
		lo := audio.ByteOffset(turn.Start, a.sampleRate, len(pcm))
		hi := audio.ByteOffset(turn.End, a.sampleRate, len(pcm))
		if hi <= lo {
			continue
		}
		slice := pcm[lo:hi]

		text, err := a.transcribe(ctx, slice)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("transcribe: turn failed, skipping",
				"label", turn.Label, "start", turn.Start, "end", turn.End, "err", err)
			continue
		}
		if text, ok := a.filter.Clean(text); ok {
			out = append(out, Utterance{Start: turn.Start, End: turn.End, Label: turn.Label, Text: text, Audio: slice})
		}
	}
	if len(turns) > 0 {
		return out, nil
	}

	text, err := a.transcribe(ctx, pcm)
	if err != nil {
		return nil, fmt.Errorf("transcribe: whole clip: %w", err)
	}
	text, ok := a.filter.Clean(text)
	if !ok {
		return nil, nil
	}
	end := audio.Duration(pcm, a.sampleRate).Seconds()
	return []Utterance{{Start: 0, End: end, Text: text, Audio: pcm}}, nil
}

// diarize returns the diarizer's turns or nil when it fails. A failure is
// never fatal: the caller falls back to the whole clip.
func (a *Adapter) diarize(ctx context.Context, pcm []byte) []types.Turn {
	start := time.Now()
	defer a.metrics.RecordStage(ctx, observe.StageDiarize, start)

	turns, err := a.diarizer.Diarize(ctx, pcm, diarize.Options{
		ExpectedSpeakers: a.expectedSpeakers,
		SampleRate:       a.sampleRate,
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		slog.Info("transcribe: diarizer circuit open, using whole clip")
		return nil
	case err != nil:
		slog.Warn("transcribe: diarization failed, using whole clip", "err", err)
		return nil
	}
	return turns
}

func (a *Adapter) transcribe(ctx context.Context, pcm []byte) (string, error) {
	start := time.Now()
	defer a.metrics.RecordStage(ctx, observe.StageTranscribe, start)

	res, err := a.stt.Transcribe(ctx, pcm, stt.Request{Language: a.language, SampleRate: a.sampleRate})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
