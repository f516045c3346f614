// Package mock provides a test double for the emotion.Provider interface.
package mock

import (
	"context"
	"maps"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/emotion"
)

// Provider is a mock implementation of emotion.Provider.
type Provider struct {
	mu sync.Mutex

	// Scores is returned (copied) by every call.
	Scores map[string]float64

	// Err, if non-nil, is returned instead of Scores.
	Err error

	calls int
}

// Classify records the call and returns Scores, Err.
func (p *Provider) Classify(context.Context, []byte, int) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	return maps.Clone(p.Scores), nil
}

// CallCount returns the number of Classify calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ emotion.Provider = (*Provider)(nil)
