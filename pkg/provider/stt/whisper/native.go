package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider transcribes in-process through the whisper.cpp cgo
// bindings. libwhisper.a and whisper.h must be reachable through
// LIBRARY_PATH and C_INCLUDE_PATH at build time.
//
// The model is loaded once and shared. Every call decodes on its own
// whisper context; the number of live contexts is capped because each one
// holds its own decoder buffers.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	slots    chan struct{}
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code ("en", "de", "auto").
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeConcurrency caps simultaneous decodes. Values below 1 are
// ignored; the default is 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.slots = make(chan struct{}, n)
		}
	}
}

// NewNative loads the model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		slots:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements [stt.Provider]. Input at rates other than 16 kHz is
// resampled. Confidence is the mean token probability of the kept text.
func (p *NativeProvider) Transcribe(ctx context.Context, pcm []byte, req stt.Request) (stt.Result, error) {
	if len(pcm) < audio.BytesPerSample {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-ctx.Done():
		return stt.Result{}, fmt.Errorf("whisper: %w", ctx.Err())
	}

	if req.SampleRate > 0 && req.SampleRate != defaultSampleRate {
		pcm = audio.ResampleMono16(pcm, req.SampleRate, defaultSampleRate)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", lang, "err", err)
	}
	if err := wctx.Process(audio.Float32s(pcm), nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts []string
		probs float64
		n     int
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" || isNonSpeech(text) {
			continue
		}
		parts = append(parts, text)
		for _, tok := range seg.Tokens {
			if isNonSpeech(tok.Text) {
				continue
			}
			probs += float64(tok.P)
			n++
		}
	}

	res := stt.Result{Text: strings.Join(parts, " "), Language: lang}
	if n > 0 {
		res.Confidence = probs / float64(n)
	}
	return res, nil
}

// isNonSpeech reports whether s is a whisper annotation such as
// "[BLANK_AUDIO]", "(music)" or a special token like "[_BEG_]".
func isNonSpeech(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '[' && last == ']') || (first == '(' && last == ')') || (first == '<' && last == '>')
}
