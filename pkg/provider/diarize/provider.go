// Package diarize defines the Provider interface for speaker diarization
// backends.
//
// A diarizer splits one clip into speaker turns: time ranges tagged with a
// clip-local speaker label ("SPEAKER_00", "SPEAKER_01", …). Labels are only
// meaningful inside a single call; cross-clip identity is resolved later by
// voice fingerprints.
//
// Implementations must be safe for concurrent use.
package diarize

import (
	"context"

	"github.com/MrWong99/earshot/pkg/types"
)

// Options carries hints for one Diarize call.
type Options struct {
	// ExpectedSpeakers is the number of distinct speakers, if known. Zero lets
	// the backend decide.
	ExpectedSpeakers int

	// SampleRate is the rate of the PCM in Hz. Zero means 16000.
	SampleRate int
}

// Provider is the abstraction over any diarization backend.
type Provider interface {
	// Diarize returns the speaker turns of mono PCM16 audio, ordered by start
	// time. An empty result with a nil error means no speech was found.
	Diarize(ctx context.Context, pcm []byte, opts Options) ([]types.Turn, error)
}

// Noop is a Provider that never finds turns. Callers then treat the whole
// clip as one anonymous speaker.
type Noop struct{}

// Diarize implements Provider.
func (Noop) Diarize(context.Context, []byte, Options) ([]types.Turn, error) { return nil, nil }

var _ Provider = Noop{}
