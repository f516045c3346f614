package resilience

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/emotion"
)

// EmotionFallback implements [emotion.Provider] with failover across several
// speech-emotion classifiers.
type EmotionFallback struct {
	group *FallbackGroup[emotion.Provider]
}

var _ emotion.Provider = (*EmotionFallback)(nil)

// NewEmotionFallback creates an [EmotionFallback] with primary as the
// preferred backend.
func NewEmotionFallback(primary emotion.Provider, primaryName string, cfg FallbackConfig) *EmotionFallback {
	if cfg.Kind == "" {
		cfg.Kind = "emotion"
	}
	return &EmotionFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *EmotionFallback) AddFallback(name string, provider emotion.Provider) {
	f.group.AddFallback(name, provider)
}

// Classify scores the clip with the first healthy backend.
func (f *EmotionFallback) Classify(ctx context.Context, pcm []byte, sampleRate int) (map[string]float64, error) {
	return ExecuteWithResult(ctx, f.group, func(p emotion.Provider) (map[string]float64, error) {
		return p.Classify(ctx, pcm, sampleRate)
	})
}
