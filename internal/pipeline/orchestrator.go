// Package pipeline turns completed speech segments into persisted, analysed
// and published [types.Segment] values.
//
// The [Orchestrator] accepts segments from the ingest path without blocking,
// processes them on a bounded worker pool and publishes the results of each
// session in submission order. It also implements the operator actions on
// stored segments: rebinding the speaker of a segment and rating it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/analysis"
	"github.com/MrWong99/earshot/internal/entity"
	"github.com/MrWong99/earshot/internal/feedback"
	"github.com/MrWong99/earshot/internal/identity"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/publish"
	"github.com/MrWong99/earshot/internal/segmenter"
	"github.com/MrWong99/earshot/internal/transcribe"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/provider/emotion"
)

// Defaults for zero configuration values.
const (
	DefaultWorkers       = 4
	DefaultQueueSize     = 64
	DefaultHistoryWindow = 5
	DefaultSampleRate    = 16000
)

// ErrClosed is returned by [Orchestrator.Submit] after shutdown began.
var ErrClosed = errors.New("pipeline: orchestrator closed")

// ErrQueueFull is returned by [Orchestrator.Submit] when the segment was
// dropped because every worker is busy and the queue is full.
var ErrQueueFull = errors.New("pipeline: queue full")

// CharacterFinder resolves a speaker name to a known character.
// [entity.Store] and the Redis-backed cache.Characters both satisfy it.
type CharacterFinder interface {
	FindByName(ctx context.Context, name string) (entity.Character, error)
}

// Config sizes the orchestrator.
type Config struct {
	// Workers bounds concurrently processed segments.
	Workers int

	// QueueSize bounds segments waiting for a worker.
	QueueSize int

	// HistoryWindow is the number of preceding segments given to analysis.
	HistoryWindow int

	// ArchiveDir receives one WAV file per segment. Empty disables archiving.
	ArchiveDir string

	// SampleRate of the submitted audio.
	SampleRate int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	return c
}

type job struct {
	ctx    context.Context
	seg    segmenter.Completed
	ticket uint64
	queued time.Time
}

// Orchestrator runs the per-segment pipeline. All exported methods are safe
// for concurrent use.
type Orchestrator struct {
	cfg        Config
	adapter    *transcribe.Adapter
	resolver   *identity.Resolver
	analyzer   *analysis.Analyzer
	segments   memory.SegmentStore
	emotion    emotion.Provider
	characters CharacterFinder
	feedback   *feedback.FileStore
	hub        *publish.Hub
	metrics    *observe.Metrics
	seq        *Sequencer

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
	start  sync.Once
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithEmotion sets the emotion classifier. Without one segments carry no
// emotion scores.
func WithEmotion(p emotion.Provider) Option {
	return func(o *Orchestrator) { o.emotion = p }
}

// WithCharacters links speakers to known characters by name.
func WithCharacters(f CharacterFinder) Option {
	return func(o *Orchestrator) { o.characters = f }
}

// WithFeedback appends every rating to fs.
func WithFeedback(fs *feedback.FileStore) Option {
	return func(o *Orchestrator) { o.feedback = fs }
}

// WithHub publishes processed segments to h.
func WithHub(h *publish.Hub) Option {
	return func(o *Orchestrator) { o.hub = h }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. Call [Orchestrator.Start] before submitting.
func New(cfg Config, adapter *transcribe.Adapter, resolver *identity.Resolver, analyzer *analysis.Analyzer, segments memory.SegmentStore, opts ...Option) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		adapter:  adapter,
		resolver: resolver,
		analyzer: analyzer,
		segments: segments,
		metrics:  observe.DefaultMetrics(),
		seq:      NewSequencer(),
		queue:    make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the dispatcher. Calling it more than once has no effect.
func (o *Orchestrator) Start() {
	o.start.Do(func() { go o.dispatch() })
}

// dispatch feeds queued jobs to at most cfg.Workers goroutines and returns
// once the queue is closed and drained.
func (o *Orchestrator) dispatch() {
	defer close(o.done)

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for j := range o.queue {
		o.metrics.QueueDepth.Add(j.ctx, -1)
		g.Go(func() error {
			o.run(j)
			return nil
		})
	}
	_ = g.Wait()
}

// Submit queues c for processing without blocking. The processing context
// inherits the values of ctx but not its cancellation, so segments still in
// flight when a connection closes are completed.
func (o *Orchestrator) Submit(ctx context.Context, c segmenter.Completed) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}

	j := job{
		ctx:    context.WithoutCancel(ctx),
		seg:    c,
		ticket: o.seq.Ticket(c.SessionID),
		queued: time.Now(),
	}
	select {
	case o.queue <- j:
		o.metrics.QueueDepth.Add(ctx, 1)
		return nil
	default:
		o.seq.Done(c.SessionID, j.ticket, nil)
		o.metrics.RecordDiscard(ctx, observe.DiscardQueueFull)
		slog.Warn("pipeline: queue full, segment dropped",
			"session_id", c.SessionID, "seq", c.Seq, "queue_size", o.cfg.QueueSize)
		return ErrQueueFull
	}
}

// Shutdown stops accepting segments and waits until queued and in-flight
// segments are processed or ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	o.Start()
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run processes one job and publishes its result in ticket order.
func (o *Orchestrator) run(j job) {
	ctx := observe.WithSession(j.ctx, j.seg.SessionID)
	log := observe.Logger(ctx).With("seq", j.seg.Seq)

	segs, err := o.Process(ctx, j.seg)
	o.metrics.PipelineDuration.Record(ctx, time.Since(j.queued).Seconds())
	if err != nil {
		log.Error("pipeline: segment failed", "err", err)
	}

	o.seq.Done(j.seg.SessionID, j.ticket, func() {
		if o.hub == nil || len(segs) == 0 {
			return
		}
		batch := publish.Batch{Segments: make([]publish.Segment, len(segs))}
		for i, s := range segs {
			batch.Segments[i] = publish.FromSegment(s)
		}
		if _, err := o.hub.Publish(ctx, j.seg.SessionID, batch); err != nil {
			log.Warn("pipeline: publish failed", "err", err)
		}
	})
}
