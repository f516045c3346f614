// Package httpdiar is a diarize.Provider that calls an HTTP diarization
// sidecar (for example a pyannote service).
//
// The sidecar receives POST {baseURL}/diarize with a multipart form holding
// the clip as "file" (WAV) and an optional "num_speakers" field. It answers
// with:
//
//	{"turns": [{"start": 0.0, "end": 1.2, "label": "SPEAKER_00"}, …]}
package httpdiar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/diarize"
	"github.com/MrWong99/earshot/pkg/types"
)

var _ diarize.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default client (120 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// Provider calls a diarization sidecar over HTTP.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New returns a Provider for the sidecar at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpdiar: baseURL must not be empty")
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type turnJSON struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Label string  `json:"label"`
}

// Diarize implements diarize.Provider. Turns with End <= Start are dropped.
func (p *Provider) Diarize(ctx context.Context, pcm []byte, opts diarize.Options) ([]types.Turn, error) {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		return nil, fmt.Errorf("httpdiar: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, rate, 1)); err != nil {
		return nil, fmt.Errorf("httpdiar: write wav: %w", err)
	}
	if opts.ExpectedSpeakers > 0 {
		if err := mw.WriteField("num_speakers", strconv.Itoa(opts.ExpectedSpeakers)); err != nil {
			return nil, fmt.Errorf("httpdiar: write num_speakers: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("httpdiar: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/diarize", &body)
	if err != nil {
		return nil, fmt.Errorf("httpdiar: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpdiar: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpdiar: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out struct {
		Turns []turnJSON `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("httpdiar: decode response: %w", err)
	}

	turns := make([]types.Turn, 0, len(out.Turns))
	for _, t := range out.Turns {
		if t.End <= t.Start {
			continue
		}
		turns = append(turns, types.Turn{Start: t.Start, End: t.End, Label: t.Label})
	}
	slices.SortStableFunc(turns, func(a, b types.Turn) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return turns, nil
}
