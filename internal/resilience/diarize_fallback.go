package resilience

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/diarize"
	"github.com/MrWong99/earshot/pkg/types"
)

// DiarizeFallback implements [diarize.Provider] with failover across several
// diarization backends. A typical chain is a remote diarization service
// followed by the in-process clustering diarizer.
type DiarizeFallback struct {
	group *FallbackGroup[diarize.Provider]
}

var _ diarize.Provider = (*DiarizeFallback)(nil)

// NewDiarizeFallback creates a [DiarizeFallback] with primary as the
// preferred backend.
func NewDiarizeFallback(primary diarize.Provider, primaryName string, cfg FallbackConfig) *DiarizeFallback {
	if cfg.Kind == "" {
		cfg.Kind = "diarize"
	}
	return &DiarizeFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *DiarizeFallback) AddFallback(name string, provider diarize.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state per backend.
func (f *DiarizeFallback) States() map[string]State { return f.group.States() }

// Diarize runs the clip through the first healthy backend.
func (f *DiarizeFallback) Diarize(ctx context.Context, pcm []byte, opts diarize.Options) ([]types.Turn, error) {
	return ExecuteWithResult(ctx, f.group, func(p diarize.Provider) ([]types.Turn, error) {
		return p.Diarize(ctx, pcm, opts)
	})
}
