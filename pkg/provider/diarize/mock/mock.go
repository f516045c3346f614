// Package mock provides a test double for the diarize.Provider interface.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/diarize"
	"github.com/MrWong99/earshot/pkg/types"
)

// DiarizeCall records a single invocation of Provider.Diarize.
type DiarizeCall struct {
	// Samples is the number of PCM16 samples passed.
	Samples int
	Opts    diarize.Options
}

// Provider is a mock implementation of diarize.Provider.
type Provider struct {
	mu sync.Mutex

	// Turns is returned by every call. It is copied before returning.
	Turns []types.Turn

	// Err, if non-nil, is returned instead of Turns.
	Err error

	// Calls records every call to Diarize.
	Calls []DiarizeCall
}

// Diarize records the call and returns Turns, Err.
func (p *Provider) Diarize(_ context.Context, pcm []byte, opts diarize.Options) ([]types.Turn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, DiarizeCall{Samples: len(pcm) / 2, Opts: opts})
	if p.Err != nil {
		return nil, p.Err
	}
	return slices.Clone(p.Turns), nil
}

// CallCount returns the number of Diarize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ diarize.Provider = (*Provider)(nil)
