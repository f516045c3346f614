// Package cluster is an in-process diarize.Provider. It cuts a clip into
// fixed windows, fingerprints every voiced window, and groups the
// fingerprints by average-linkage agglomerative clustering on cosine
// distance. Adjacent windows in the same cluster become one turn.
//
// It needs no model server and works well for a handful of clearly distinct
// voices. Use an HTTP diarizer when accuracy matters.
package cluster

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/features"
	"github.com/MrWong99/earshot/pkg/provider/diarize"
	"github.com/MrWong99/earshot/pkg/types"
)

// Defaults.
const (
	DefaultWindow    = time.Second
	DefaultThreshold = 0.3 // cosine distance
	DefaultSilence   = 300 // RMS in sample units
)

var _ diarize.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithWindow sets the analysis window length.
func WithWindow(d time.Duration) Option {
	return func(p *Provider) { p.window = d }
}

// WithThreshold sets the cosine distance below which clusters merge.
func WithThreshold(d float64) Option {
	return func(p *Provider) { p.threshold = d }
}

// WithSilenceRMS sets the RMS below which a window is ignored.
func WithSilenceRMS(rms float64) Option {
	return func(p *Provider) { p.silence = rms }
}

// Provider clusters window fingerprints into speakers.
type Provider struct {
	window    time.Duration
	threshold float64
	silence   float64
}

// New returns a Provider with the given options applied over the defaults.
func New(opts ...Option) *Provider {
	p := &Provider{
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		silence:   DefaultSilence,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type span struct {
	start, end float64
	fp         []float64
}

// Diarize implements diarize.Provider. When opts.ExpectedSpeakers is set,
// clusters merge until exactly that many remain, ignoring the threshold.
func (p *Provider) Diarize(ctx context.Context, pcm []byte, opts diarize.Options) ([]types.Turn, error) {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	winBytes := int(p.window.Seconds()*float64(rate)) * audio.BytesPerSample
	if winBytes <= 0 {
		return nil, fmt.Errorf("cluster: window %v too short", p.window)
	}

	var spans []span
	for off := 0; off < len(pcm); off += winBytes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cluster: %w", err)
		}
		end := min(off+winBytes, len(pcm))
		chunk := pcm[off:end]
		if audio.RMS(chunk) < p.silence {
			continue
		}
		fp, ok := features.Fingerprint(chunk, rate)
		if !ok {
			continue
		}
		v := make([]float64, len(fp))
		for i, f := range fp {
			v[i] = float64(f)
		}
		spans = append(spans, span{
			start: float64(off/audio.BytesPerSample) / float64(rate),
			end:   float64(end/audio.BytesPerSample) / float64(rate),
			fp:    v,
		})
	}
	if len(spans) == 0 {
		return nil, nil
	}

	labels := agglomerate(spans, p.threshold, opts.ExpectedSpeakers)

	// Name clusters by first appearance and merge adjacent windows.
	names := map[int]string{}
	var turns []types.Turn
	for i, s := range spans {
		name, ok := names[labels[i]]
		if !ok {
			name = fmt.Sprintf("SPEAKER_%02d", len(names))
			names[labels[i]] = name
		}
		if n := len(turns); n > 0 && turns[n-1].Label == name && turns[n-1].End == s.start {
			turns[n-1].End = s.end
			continue
		}
		turns = append(turns, types.Turn{Start: s.start, End: s.end, Label: name})
	}
	return turns, nil
}

// agglomerate returns a cluster index per span.
func agglomerate(spans []span, threshold float64, want int) []int {
	n := len(spans)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range i {
			d := cosineDistance(spans[i].fp, spans[j].fp)
			dist[i][j], dist[j][i] = d, d
		}
	}

	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	linkage := func(a, b []int) float64 {
		var sum float64
		for _, i := range a {
			for _, j := range b {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a)*len(b))
	}

	for len(clusters) > 1 {
		bi, bj, best := -1, -1, math.Inf(1)
		for i := range clusters {
			for j := i + 1; j < len(clusters); j++ {
				if d := linkage(clusters[i], clusters[j]); d < best {
					bi, bj, best = i, j, d
				}
			}
		}
		if want > 0 {
			if len(clusters) <= want {
				break
			}
		} else if best >= threshold {
			break
		}
		clusters[bi] = append(clusters[bi], clusters[bj]...)
		clusters = append(clusters[:bj], clusters[bj+1:]...)
	}

	labels := make([]int, n)
	for c, members := range clusters {
		for _, i := range members {
			labels[i] = c
		}
	}
	return labels
}

func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}
