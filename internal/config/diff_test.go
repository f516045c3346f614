package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Identity:  config.IdentityConfig{MatchThreshold: 0.85},
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "whisper"}},
		Analysis:  config.AnalysisConfig{DeepPrompt: "Analyse {{.Text}}"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.HasChanges() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		check   func(t *testing.T, d config.ConfigDiff)
		restart []string
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("log level diff: %+v", d)
				}
			},
		},
		{
			name:   "threshold",
			mutate: func(c *config.Config) { c.Identity.MatchThreshold = 0.9 },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.ThresholdChanged || d.NewThreshold != 0.9 {
					t.Errorf("threshold diff: %+v", d)
				}
			},
		},
		{
			name:   "prompt",
			mutate: func(c *config.Config) { c.Analysis.DeepPrompt = "Summarise {{.Text}}" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.PromptsChanged {
					t.Error("expected PromptsChanged")
				}
			},
		},
		{
			name:   "temperature",
			mutate: func(c *config.Config) { c.Analysis.QuickTemperature = 0.1 },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.PromptsChanged {
					t.Error("expected PromptsChanged")
				}
			},
		},
		{
			name:    "listen address",
			mutate:  func(c *config.Config) { c.Server.ListenAddr = ":9090" },
			restart: []string{"server"},
		},
		{
			name:    "provider and workers",
			mutate:  func(c *config.Config) { c.Providers.STT.Model = "small"; c.Pipeline.Workers = 8 },
			restart: []string{"pipeline", "providers"},
		},
		{
			name:    "hallucination phrases",
			mutate:  func(c *config.Config) { c.Analysis.HallucinationPhrases = []string{"subscribe"} },
			restart: []string{"analysis"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !d.HasChanges() {
				t.Fatal("expected changes")
			}
			if tt.check != nil {
				tt.check(t, d)
			}
			got := slices.Clone(d.RestartRequired)
			slices.Sort(got)
			if !slices.Equal(got, tt.restart) {
				t.Errorf("RestartRequired = %v, want %v", got, tt.restart)
			}
		})
	}
}
