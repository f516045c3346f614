package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":     {"whisper", "whisper-native"},
	"diarize": {"http", "cluster", "none"},
	"emotion": {"http"},
	"vad":     {"webrtc", "energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	switch a.SampleRate {
	case 0, 8000, 16000, 32000, 48000:
	default:
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 8000, 16000, 32000, 48000", a.SampleRate))
	}
	switch a.FrameMs {
	case 0, 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", a.FrameMs))
	}
	if a.VADMode != nil && (*a.VADMode < 0 || *a.VADMode > 3) {
		errs = append(errs, fmt.Errorf("audio.vad_mode %d is out of range [0, 3]", *a.VADMode))
	}
	if a.HangoverFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.hangover_frames %d must not be negative", a.HangoverFrames))
	}
	if a.MinSegmentSeconds < 0 {
		errs = append(errs, fmt.Errorf("audio.min_segment_seconds %.2f must not be negative", a.MinSegmentSeconds))
	}
	if a.BandLowHz < 0 || a.BandHighHz < 0 {
		errs = append(errs, errors.New("audio.band_low_hz and audio.band_high_hz must not be negative"))
	}
	if a.BandLowHz != 0 && a.BandHighHz != 0 && a.BandLowHz >= a.BandHighHz {
		errs = append(errs, fmt.Errorf("audio.band_low_hz %.0f must be below audio.band_high_hz %.0f", a.BandLowHz, a.BandHighHz))
	}
	if rate := a.SampleRate; rate != 0 && a.BandHighHz >= float64(rate)/2 {
		errs = append(errs, fmt.Errorf("audio.band_high_hz %.0f must be below the Nyquist frequency %d", a.BandHighHz, rate/2))
	}

	// Identity
	if t := cfg.Identity.MatchThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("identity.match_threshold %.3f is out of range [0, 1]", t))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.Workers < 0 || p.QueueSize < 0 || p.HistoryWindow < 0 {
		errs = append(errs, errors.New("pipeline.workers, pipeline.queue_size and pipeline.history_window must not be negative"))
	}

	// Session
	if cfg.Session.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout %s must not be negative", cfg.Session.IdleTimeout))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderEntry("llm", cfg.Providers.LLM)
	validateProviderEntry("llm", cfg.Providers.QuickLLM)
	validateProviderEntry("stt", cfg.Providers.STT)
	validateProviderEntry("diarize", cfg.Providers.Diarizer)
	validateProviderEntry("emotion", cfg.Providers.Emotion)
	validateProviderEntry("vad", cfg.Providers.VAD)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is empty; segments will carry an empty analysis")
	}

	// Analysis
	for name, temp := range map[string]float64{
		"analysis.deep_temperature":  cfg.Analysis.DeepTemperature,
		"analysis.quick_temperature": cfg.Analysis.QuickTemperature,
	} {
		if temp < 0 || temp > 2 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 2]", name, temp))
		}
	}

	// Storage
	if cfg.Storage.FingerprintDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.fingerprint_dimensions %d must not be negative", cfg.Storage.FingerprintDimensions))
	}
	if cfg.Storage.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("storage.max_conns %d must not be negative", cfg.Storage.MaxConns))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; segments and voice profiles are kept in memory only")
	}

	// Cache
	if cfg.Cache.RedisURL != "" {
		if u, err := url.Parse(cfg.Cache.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss" && u.Scheme != "unix") {
			errs = append(errs, fmt.Errorf("cache.redis_url %q is invalid; expected a redis://, rediss:// or unix:// URL", cfg.Cache.RedisURL))
		}
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}

	// Characters
	for i, f := range cfg.Characters.Files {
		if f == "" {
			errs = append(errs, fmt.Errorf("characters.files[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderEntry warns about unknown names in e and its fallbacks.
func validateProviderEntry(kind string, e ProviderEntry) {
	validateProviderName(kind, e.Name)
	for _, fb := range e.Fallbacks {
		validateProviderName(kind, fb.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
