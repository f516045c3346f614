package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/diarize"
	"github.com/MrWong99/earshot/pkg/provider/emotion"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM      llm.Provider
	QuickLLM llm.Provider
	STT      stt.Provider
	Diarizer diarize.Provider
	Emotion  emotion.Provider
	VAD      vad.Engine
}

type named[T any] struct {
	name string
	p    T
}

// BuildProviders instantiates every provider named in cfg through reg. An
// entry with fallbacks is wrapped in the matching resilience fallback so
// that each backend gets its own circuit breaker. A fallback that cannot be
// constructed is logged and skipped; a primary that cannot be constructed is
// an error.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	fb := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{Kind: kind, Metrics: m}
	}
	ps := &Providers{}

	llms, err := createChain("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if len(llms) > 0 {
		ps.LLM = wrapChain(llms, func(primary named[llm.Provider]) *resilience.LLMFallback {
			return resilience.NewLLMFallback(primary.p, primary.name, fb("llm"))
		})
	}

	quick, err := createChain("quick_llm", cfg.Providers.QuickLLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if len(quick) > 0 {
		ps.QuickLLM = wrapChain(quick, func(primary named[llm.Provider]) *resilience.LLMFallback {
			return resilience.NewLLMFallback(primary.p, primary.name, fb("llm"))
		})
	}

	stts, err := createChain("stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	if len(stts) > 0 {
		ps.STT = wrapChain(stts, func(primary named[stt.Provider]) *resilience.STTFallback {
			return resilience.NewSTTFallback(primary.p, primary.name, fb("stt"))
		})
	}

	diars, err := createChain("diarizer", cfg.Providers.Diarizer, reg.CreateDiarizer)
	if err != nil {
		return nil, err
	}
	if len(diars) > 0 {
		ps.Diarizer = wrapChain(diars, func(primary named[diarize.Provider]) *resilience.DiarizeFallback {
			return resilience.NewDiarizeFallback(primary.p, primary.name, fb("diarize"))
		})
	}

	emos, err := createChain("emotion", cfg.Providers.Emotion, reg.CreateEmotion)
	if err != nil {
		return nil, err
	}
	if len(emos) > 0 {
		ps.Emotion = wrapChain(emos, func(primary named[emotion.Provider]) *resilience.EmotionFallback {
			return resilience.NewEmotionFallback(primary.p, primary.name, fb("emotion"))
		})
	}

	// The classifier runs per frame inside the segmenter; it has no fallback.
	if name := cfg.Providers.VAD.Name; name != "" {
		eng, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("app: create vad provider %q: %w", name, err)
		}
		ps.VAD = eng
		slog.Info("provider created", "kind", "vad", "name", name)
	}
	return ps, nil
}

// createChain constructs the primary entry and its fallbacks.
func createChain[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]named[T], error) {
	if entry.Name == "" {
		return nil, nil
	}
	entries := append([]config.ProviderEntry{entry}, entry.Fallbacks...)
	chain := make([]named[T], 0, len(entries))
	for i, e := range entries {
		p, err := create(e)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("app: create %s provider %q: %w", kind, e.Name, err)
			}
			slog.Warn("app: skipping fallback provider", "kind", kind, "name", e.Name, "err", err)
			continue
		}
		chain = append(chain, named[T]{name: e.Name, p: p})
		slog.Info("provider created", "kind", kind, "name", e.Name, "fallback", i > 0)
	}
	return chain, nil
}

// adder is implemented by every typed resilience fallback.
type adder[T any] interface {
	AddFallback(name string, p T)
}

// wrapChain returns the single provider of chain as is, or a fallback group
// built by newGroup over all of them.
func wrapChain[T any, G adder[T]](chain []named[T], newGroup func(primary named[T]) G) T {
	if len(chain) == 1 {
		return chain[0].p
	}
	g := newGroup(chain[0])
	for _, n := range chain[1:] {
		g.AddFallback(n.name, n.p)
	}
	return any(g).(T)
}
