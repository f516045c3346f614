// Package app wires all earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and processes segments, and Shutdown tears
// everything down in order.
//
// For testing, inject in-memory implementations via functional options
// (WithSegmentStore, WithProfileStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/analysis"
	"github.com/MrWong99/earshot/internal/cache"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/entity"
	"github.com/MrWong99/earshot/internal/feedback"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/identity"
	"github.com/MrWong99/earshot/internal/ingest"
	"github.com/MrWong99/earshot/internal/mcp"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/internal/publish"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/segmenter"
	"github.com/MrWong99/earshot/internal/server"
	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/internal/transcribe"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/memory/inmem"
	"github.com/MrWong99/earshot/pkg/memory/postgres"
	"github.com/MrWong99/earshot/pkg/types"
)

// DefaultFeedbackPath is used when feedback.path is empty.
const DefaultFeedbackPath = "feedback.jsonl"

const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	segments     memory.SegmentStore
	profiles     memory.ProfileStore
	entities     entity.Store
	cache        *cache.Client
	resolver     *identity.Resolver
	analyzer     *analysis.Analyzer
	hub          *publish.Hub
	orchestrator *pipeline.Orchestrator
	sessions     *session.Registry
	ingest       *ingest.Service
	health       *health.Handler
	server       *server.Server

	metricsHandler http.Handler
	checkers       []health.Checker
	version        string

	httpSrv    *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSegmentStore injects a segment store instead of creating one from config.
func WithSegmentStore(s memory.SegmentStore) Option {
	return func(a *App) { a.segments = s }
}

// WithProfileStore injects a voice profile store instead of creating one
// from config.
func WithProfileStore(s memory.ProfileStore) Option {
	return func(a *App) { a.profiles = s }
}

// WithEntityStore injects a character store instead of creating a MemStore.
func WithEntityStore(s entity.Store) Option {
	return func(a *App) { a.entities = s }
}

// WithMetrics sets the metrics sink shared by every subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithVersion sets the build version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithLogLevel lets config reloads adjust the log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders]. A missing VAD engine does not fail New: the
// audio endpoint then reports the engine as unavailable.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: a speech-to-text provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.baseCtx, a.cancelBase = context.WithCancel(context.Background())

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Characters + cache ────────────────────────────────────────────
	if err := a.initCharacters(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init characters: %w", err)
	}

	// ── 3. Identity + analysis ───────────────────────────────────────────
	a.resolver = identity.NewResolver(a.profiles,
		identity.WithThreshold(thresholdOf(cfg)),
		identity.WithMetrics(a.metrics),
	)
	if err := a.initAnalyzer(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init analysis: %w", err)
	}

	// ── 4. Pipeline ──────────────────────────────────────────────────────
	seg := segmenter.New(providers.VAD, segmenterConfig(cfg.Audio), segmenter.WithMetrics(a.metrics))
	a.initPipeline(seg.Config().SampleRate)

	// ── 5. Live sessions ─────────────────────────────────────────────────
	a.sessions = session.NewRegistry(
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
		session.WithMetrics(a.metrics),
	)
	a.ingest = ingest.New(seg, a.sessions, a.profiles, a.orchestrator)

	// ── 6. HTTP ──────────────────────────────────────────────────────────
	a.checkers = append(a.checkers, health.Checker{
		Name: "vad",
		Check: func(context.Context) error {
			if providers.VAD == nil {
				return segmenter.ErrUnavailable
			}
			return nil
		},
	})
	a.health = health.New(a.checkers...)
	srvOpts := []server.Option{
		server.WithHealth(a.health),
		server.WithMetricsHandler(a.metricsHandler),
		server.WithMetrics(a.metrics),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	}
	if cfg.Server.MCP {
		tools := mcp.New(a.segments, a.resolver, a.orchestrator, cmp.Or(a.version, "dev"))
		srvOpts = append(srvOpts, server.WithMCP(tools.Handler()))
	}
	a.server = server.New(a.ingest, a.hub, a.orchestrator, a.resolver, a.segments, srvOpts...)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage connects PostgreSQL when a DSN is configured and falls back
// to in-memory stores otherwise. Injected stores are kept.
func (a *App) initStorage(ctx context.Context) error {
	if a.segments != nil && a.profiles != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Warn("app: no postgres_dsn configured, segments and voice profiles are kept in memory")
		if a.segments == nil {
			a.segments = inmem.NewSegmentStore()
		}
		if a.profiles == nil {
			a.profiles = inmem.NewProfileStore()
		}
		return nil
	}

	dims := a.cfg.Storage.FingerprintDimensions
	if dims <= 0 {
		dims = types.FingerprintDims
	}
	store, err := postgres.NewStore(ctx, dsn, dims, postgres.WithMaxConns(a.cfg.Storage.MaxConns))
	if err != nil {
		return err
	}
	if a.segments == nil {
		a.segments = store
	}
	if a.profiles == nil {
		a.profiles = store
	}
	a.checkers = append(a.checkers, health.Checker{Name: "database", Check: store.Ping})
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initCharacters loads the roster files and puts the Redis cache in front
// of the character store. An unreachable Redis only disables caching.
func (a *App) initCharacters(ctx context.Context) error {
	if a.entities == nil {
		a.entities = entity.NewMemStore(entity.WithNameMatcher(entity.NewNameMatcher()))
	}
	if files := a.cfg.Characters.Files; len(files) > 0 {
		n, err := entity.LoadRosters(ctx, a.entities, files)
		if err != nil {
			return err
		}
		slog.Info("imported characters", "files", len(files), "count", n)
	}

	a.cache = cache.Open(ctx, cache.Config{
		URL:     a.cfg.Cache.RedisURL,
		TTL:     a.cfg.Cache.TTL,
		Channel: a.cfg.Cache.PublishChannel,
	})
	hubOpts := []publish.Option{}
	if a.cache.Enabled() {
		a.closers = append(a.closers, a.cache.Close)
		a.checkers = append(a.checkers, health.Checker{Name: "cache", Check: a.cache.Ping, Optional: true})
		hubOpts = append(hubOpts, publish.WithMirror(a.cache))
	}
	a.hub = publish.NewHub(hubOpts...)
	return nil
}

func (a *App) initAnalyzer() error {
	opts := []analysis.Option{
		analysis.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "deep-analysis",
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("analysis: circuit breaker state changed", "breaker", name, "from", from, "to", to)
			},
		})),
		analysis.WithMetrics(a.metrics),
	}
	if a.providers.QuickLLM != nil {
		opts = append(opts, analysis.WithQuickProvider(a.providers.QuickLLM))
	}
	if a.providers.LLM == nil {
		slog.Warn("app: no llm provider configured, segments are stored without analysis")
	}
	az, err := analysis.New(a.providers.LLM, promptsOf(a.cfg.Analysis), opts...)
	if err != nil {
		return err
	}
	a.analyzer = az
	return nil
}

func (a *App) initPipeline(sampleRate int) {
	phrases := a.cfg.Analysis.HallucinationPhrases
	if len(phrases) == 0 {
		phrases = transcribe.DefaultHallucinations
	}
	tOpts := []transcribe.Option{
		transcribe.WithFilter(transcribe.NewFilter(phrases)),
		transcribe.WithSampleRate(sampleRate),
		transcribe.WithMetrics(a.metrics),
	}
	if a.providers.Diarizer != nil {
		tOpts = append(tOpts, transcribe.WithDiarizer(a.providers.Diarizer))
	}
	if lang := optString(a.cfg.Providers.STT.Options, "language"); lang != "" {
		tOpts = append(tOpts, transcribe.WithLanguage(lang))
	}
	if n := optInt(a.cfg.Providers.Diarizer.Options, "expected_speakers"); n > 0 {
		tOpts = append(tOpts, transcribe.WithExpectedSpeakers(n))
	}
	adapter := transcribe.New(a.providers.STT, tOpts...)

	fbPath := a.cfg.Feedback.Path
	if fbPath == "" {
		fbPath = DefaultFeedbackPath
	}
	pOpts := []pipeline.Option{
		pipeline.WithCharacters(cache.NewCharacters(a.entities, a.cache)),
		pipeline.WithFeedback(feedback.NewFileStore(fbPath)),
		pipeline.WithHub(a.hub),
		pipeline.WithMetrics(a.metrics),
	}
	if a.providers.Emotion != nil {
		pOpts = append(pOpts, pipeline.WithEmotion(a.providers.Emotion))
	}
	a.orchestrator = pipeline.New(pipeline.Config{
		Workers:       a.cfg.Pipeline.Workers,
		QueueSize:     a.cfg.Pipeline.QueueSize,
		HistoryWindow: a.cfg.Pipeline.HistoryWindow,
		ArchiveDir:    a.cfg.Audio.ArchiveDir,
		SampleRate:    sampleRate,
	}, adapter, a.resolver, a.analyzer, a.segments, pOpts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler of the application.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run starts the pipeline workers and the HTTP server and blocks until ctx is
// cancelled or the server fails. When ctx is done, Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.cfg.Server.ListenAddr, err)
	}

	a.orchestrator.Start()
	go a.sessions.Run(ctx)

	a.httpSrv = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- a.httpSrv.Serve(ln) }()

	slog.Info("app running", "addr", ln.Addr().String())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the application: readiness fails first, open audio
// sockets are closed and their pending utterances flushed, queued segments
// finish processing, and finally the stores are closed. It respects the
// context deadline; remaining steps after expiry are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		a.health.Drain()

		// Cancelling the base context ends every websocket handler.
		a.cancelBase()
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}
		if err := a.server.WaitStreams(ctx); err != nil {
			slog.Warn("audio streams did not finish", "err", err)
		}

		if err := a.orchestrator.Shutdown(ctx); err != nil {
			slog.Warn("pipeline did not drain", "err", err)
			shutdownErr = err
		}
		_ = a.sessions.Close()
		a.close()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	if a.cancelBase != nil {
		a.cancelBase()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func thresholdOf(cfg *config.Config) float64 {
	if t := cfg.Identity.MatchThreshold; t > 0 {
		return t
	}
	return identity.DefaultThreshold
}

func promptsOf(c config.AnalysisConfig) analysis.Prompts {
	return analysis.Prompts{
		Deep:             c.DeepPrompt,
		Quick:            c.QuickPrompt,
		DeepTemperature:  c.DeepTemperature,
		QuickTemperature: c.QuickTemperature,
	}
}

func segmenterConfig(c config.AudioConfig) segmenter.Config {
	mode := segmenter.DefaultVADMode
	if c.VADMode != nil {
		mode = *c.VADMode
	}
	return segmenter.Config{
		SampleRate:     c.SampleRate,
		FrameMs:        c.FrameMs,
		HangoverFrames: c.HangoverFrames,
		MinVoiced:      time.Duration(c.MinSegmentSeconds * float64(time.Second)),
		LowCutHz:       c.BandLowHz,
		HighCutHz:      c.BandHighHz,
		Prefilter:      c.Prefilter,
		VADMode:        mode,
	}
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML
// decodes integers as int; floats are truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
