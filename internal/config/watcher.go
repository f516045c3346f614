package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] looks at the file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives the previous and the new config together with their
// [Diff]. It runs on the watcher goroutine, or on the caller of
// [Watcher.Reload].
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher keeps the config file at a path under observation. A rewrite that
// parses and validates replaces the current config and is handed to the
// ChangeFunc. A rewrite that does not is logged and the previous config
// stays in force.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	// reload serialises Reload calls so that ChangeFunc sees changes in order.
	reload sync.Mutex

	mu      sync.Mutex
	current *Config
	digest  [sha256.Size]byte
	modTime time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period. Zero or negative disables polling so
// the file is only re-read through [Watcher.Reload].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// NewWatcher reads the file once and starts polling it. The first read has to
// succeed.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.digest, w.modTime = snap.cfg, snap.digest, snap.modTime

	if w.interval > 0 {
		go w.poll()
	}
	return w, nil
}

// Current is the config most recently accepted.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file regardless of its modification time. It reports
// whether the content differed from the current config. A file that fails to
// load is returned as an error and leaves the current config in place.
func (w *Watcher) Reload() (bool, error) {
	w.reload.Lock()
	defer w.reload.Unlock()

	snap, err := readSnapshot(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.modTime = snap.modTime
	if snap.digest == w.digest {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.digest = snap.cfg, snap.digest
	w.mu.Unlock()

	d := Diff(old, snap.cfg)
	slog.Info("config reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"threshold_changed", d.ThresholdChanged,
		"prompts_changed", d.PromptsChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that only apply after a restart", "sections", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(old, snap.cfg, d)
	}
	return true, nil
}

// Stop ends polling. Further calls are no-ops.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) poll() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
		}
		if !w.touched() {
			continue
		}
		if _, err := w.Reload(); err != nil {
			slog.Warn("config reload rejected, keeping previous config", "path", w.path, "err", err)
		}
	}
}

// touched reports whether the file's modification time moved since the last
// read.
func (w *Watcher) touched() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unavailable", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.modTime)
}

type snapshot struct {
	cfg     *Config
	digest  [sha256.Size]byte
	modTime time.Time
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, digest: sha256.Sum256(data), modTime: info.ModTime()}, nil
}
