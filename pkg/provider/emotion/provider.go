// Package emotion defines the Provider interface for speech emotion
// recognition (SER) backends.
//
// A provider scores one clip against a fixed label set ("neutral", "happy",
// "angry", …) and returns the highest-scoring labels with their scores.
//
// Implementations must be safe for concurrent use.
package emotion

import (
	"cmp"
	"context"
	"slices"
)

// DefaultTopK is the number of labels a Classify call returns by default.
const DefaultTopK = 3

// Provider is the abstraction over any SER backend.
type Provider interface {
	// Classify returns up to the provider's top-k emotion labels for mono
	// PCM16 audio at sampleRate, mapped to scores in [0, 1].
	Classify(ctx context.Context, pcm []byte, sampleRate int) (map[string]float64, error)
}

// Score is one label with its confidence.
type Score struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// TopK keeps the k highest scores of scores. Ties keep input order. k <= 0
// keeps everything.
func TopK(scores []Score, k int) map[string]float64 {
	sorted := slices.Clone(scores)
	slices.SortStableFunc(sorted, func(a, b Score) int { return cmp.Compare(b.Score, a.Score) })
	if k > 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	out := make(map[string]float64, len(sorted))
	for _, s := range sorted {
		out[s.Label] = s.Score
	}
	return out
}
