// Package whisper transcribes speech segments with whisper.cpp.
//
// [Provider] uploads each segment as a WAV file to the /inference endpoint of
// a whisper-server process. [NativeProvider] runs the model in-process
// through the cgo bindings.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider is a client for whisper-server.
type Provider struct {
	endpoint string
	model    string
	language string
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Servers started with a
// single model ignore it.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a request carries none. "auto"
// lets the server detect it. The default is "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the client, which otherwise times out after a
// minute.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider for the whisper-server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server url is required")
	}
	p := &Provider{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/inference",
		language: "en",
		client:   &http.Client{Timeout: time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// inference is the verbose_json answer of whisper-server.
type inference struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// confidence is the mean per-segment token probability weighted by the
// chance that the segment holds speech at all.
func (r inference) confidence() float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.Segments {
		sum += math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
	}
	return min(max(sum/float64(len(r.Segments)), 0), 1)
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, req stt.Request) (stt.Result, error) {
	if len(pcm) < audio.BytesPerSample {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	body, contentType, err := p.form(audio.EncodeWAV(pcm, rate, 1), lang)
	if err != nil {
		return stt.Result{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: build request: %w", err)
	}
	hreq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(hreq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Result{}, fmt.Errorf("whisper: inference returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out inference
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: decode inference: %w", err)
	}
	if out.Language == "" || lang != "auto" {
		out.Language = lang
	}
	return stt.Result{
		Text:       strings.TrimSpace(out.Text),
		Language:   out.Language,
		Confidence: out.confidence(),
	}, nil
}

// form builds the multipart upload for one clip.
func (p *Provider) form(wav []byte, lang string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("whisper: form file: %w", err)
	}
	for _, f := range [][2]string{
		{"response_format", "verbose_json"},
		{"language", lang},
		{"model", p.model},
	} {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: form field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
