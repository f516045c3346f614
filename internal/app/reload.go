package app

import (
	"log/slog"

	"github.com/MrWong99/earshot/internal/config"
)

// ApplyConfig applies the hot-reloadable parts of a changed configuration.
// It has the signature of a [config.ChangeFunc].
func (a *App) ApplyConfig(_, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		a.resolver.SetThreshold(thresholdOf(next))
		slog.Info("config reload: match threshold changed", "threshold", a.resolver.Threshold())
	}
	if d.PromptsChanged {
		if err := a.analyzer.SetPrompts(promptsOf(next.Analysis)); err != nil {
			slog.Error("config reload: analysis prompts rejected, keeping previous", "err", err)
		} else {
			slog.Info("config reload: analysis prompts updated")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes take effect after restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a configured log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
