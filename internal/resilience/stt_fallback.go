package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several
// transcription backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. Empty-audio rejections do not count against the breakers unless
// cfg supplies its own classifier.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return CountsAsFailure(err) && !errors.Is(err, stt.ErrEmptyAudio)
		}
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state per backend.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Transcribe runs the clip through the first healthy backend. An empty-audio
// error is returned at once since no other backend would accept the clip.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, req stt.Request) (stt.Result, error) {
	if len(pcm) < 2 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, pcm, req)
	})
}
