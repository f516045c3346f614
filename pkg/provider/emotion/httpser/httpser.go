// Package httpser is an emotion.Provider that calls an HTTP audio
// classification sidecar, such as a Hugging Face transformers pipeline
// served behind a small web app.
//
// The sidecar receives POST {baseURL}/classify with the clip as a WAV body
// (Content-Type audio/wav) and answers with a JSON array of
// {"label": "...", "score": 0.0} objects. A nested array (the batch form of
// the transformers pipeline) is unwrapped.
package httpser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/emotion"
)

var _ emotion.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithTopK overrides emotion.DefaultTopK.
func WithTopK(k int) Option {
	return func(p *Provider) { p.topK = k }
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider calls a SER sidecar over HTTP.
type Provider struct {
	baseURL string
	topK    int
	client  *http.Client
}

// New returns a Provider for the sidecar at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpser: baseURL must not be empty")
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		topK:    emotion.DefaultTopK,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Classify implements emotion.Provider.
func (p *Provider) Classify(ctx context.Context, pcm []byte, sampleRate int) (map[string]float64, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	wav := audio.EncodeWAV(pcm, sampleRate, 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/classify?top_k=%d", p.baseURL, p.topK), bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("httpser: create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpser: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpser: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpser: read body: %w", err)
	}

	var scores []emotion.Score
	if err := json.Unmarshal(body, &scores); err != nil {
		var nested [][]emotion.Score
		if err2 := json.Unmarshal(body, &nested); err2 != nil || len(nested) == 0 {
			return nil, fmt.Errorf("httpser: decode response: %w", err)
		}
		scores = nested[0]
	}
	return emotion.TopK(scores, p.topK), nil
}
