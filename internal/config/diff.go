package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// every other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	// PromptsChanged is set when any analysis prompt or temperature changed.
	PromptsChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// HasChanges reports whether anything at all differs.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.PromptsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.MCP != new.Server.MCP ||
		!reflect.DeepEqual(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	if old.Identity.MatchThreshold != new.Identity.MatchThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Identity.MatchThreshold
	}

	oa, na := old.Analysis, new.Analysis
	if oa.DeepPrompt != na.DeepPrompt || oa.QuickPrompt != na.QuickPrompt ||
		oa.DeepTemperature != na.DeepTemperature || oa.QuickTemperature != na.QuickTemperature {
		d.PromptsChanged = true
	}
	if !reflect.DeepEqual(oa.HallucinationPhrases, na.HallucinationPhrases) {
		d.RestartRequired = append(d.RestartRequired, "analysis")
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"audio", old.Audio, new.Audio},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"session", old.Session, new.Session},
		{"providers", old.Providers, new.Providers},
		{"storage", old.Storage, new.Storage},
		{"cache", old.Cache, new.Cache},
		{"characters", old.Characters, new.Characters},
		{"feedback", old.Feedback, new.Feedback},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
