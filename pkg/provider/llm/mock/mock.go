// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Response: &llm.CompletionResponse{Content: `{"ok":true}`}}
//	resp, _ := p.Complete(ctx, req)
//	if len(p.Calls()) != 1 { … }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when set, computes the response for each call and takes
	// precedence over Response and Err.
	CompleteFunc func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Response is returned by Complete when CompleteFunc is nil. A nil
	// Response yields an empty, non-nil CompletionResponse.
	Response *llm.CompletionResponse

	// Err, if non-nil, is returned by Complete when CompleteFunc is nil.
	Err error

	calls []llm.CompletionRequest
}

// Complete records the request and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	fn, resp, err := p.CompleteFunc, p.Response, p.Err
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	out := *resp
	return &out, nil
}

// Calls returns a copy of all recorded requests.
func (p *Provider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

var _ llm.Provider = (*Provider)(nil)
