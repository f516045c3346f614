package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/diarize"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	llmmock "github.com/MrWong99/earshot/pkg/provider/llm/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

func testRegistry(primary, backup llm.Provider) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) { return backup, nil })
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("missing api key")
	})
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterDiarizer("none", func(config.ProviderEntry) (diarize.Provider, error) {
		return diarize.Noop{}, nil
	})
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
	return reg
}

func TestBuildProviders_Single(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{}
	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM:      config.ProviderEntry{Name: "primary"},
		STT:      config.ProviderEntry{Name: "whisper"},
		Diarizer: config.ProviderEntry{Name: "none"},
		VAD:      config.ProviderEntry{Name: "energy"},
	}}
	ps, err := app.BuildProviders(cfg, testRegistry(primary, nil), observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.LLM != llm.Provider(primary) {
		t.Errorf("LLM = %T, want the primary provider unwrapped", ps.LLM)
	}
	if ps.QuickLLM != nil || ps.Emotion != nil {
		t.Errorf("unconfigured slots are set: quick=%v emotion=%v", ps.QuickLLM, ps.Emotion)
	}
	if ps.STT == nil || ps.Diarizer == nil || ps.VAD == nil {
		t.Errorf("configured slots missing: %+v", ps)
	}
}

func TestBuildProviders_FallbackChain(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Err: errors.New("503")}
	backup := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "ok"}}
	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM: config.ProviderEntry{
			Name: "primary",
			Fallbacks: []config.ProviderEntry{
				{Name: "broken"},
				{Name: "backup"},
			},
		},
		STT: config.ProviderEntry{Name: "whisper"},
	}}
	ps, err := app.BuildProviders(cfg, testRegistry(primary, backup), observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	fb, ok := ps.LLM.(*resilience.LLMFallback)
	if !ok {
		t.Fatalf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if states := fb.States(); len(states) != 2 {
		t.Errorf("fallback entries = %v, want primary and backup", states)
	}

	resp, err := ps.LLM.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q, want the backup answer", resp.Content)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.ProvidersConfig
	}{
		{name: "primary fails", cfg: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "broken"}}},
		{name: "unregistered", cfg: config.ProvidersConfig{STT: config.ProviderEntry{Name: "deepgram"}}},
		{name: "unregistered vad", cfg: config.ProvidersConfig{VAD: config.ProviderEntry{Name: "silero"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{Providers: tt.cfg}
			if _, err := app.BuildProviders(cfg, testRegistry(nil, nil), observe.DefaultMetrics()); err == nil {
				t.Fatal("BuildProviders succeeded, want error")
			}
		})
	}
}
