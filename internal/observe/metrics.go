// Package observe holds the OpenTelemetry instruments, tracing helpers and
// HTTP middleware shared by every earshot component.
//
// Instruments live in a [Metrics] value. [DefaultMetrics] binds one to the
// global meter provider that [InitProvider] installs; tests build their own
// with [NewMetrics] over an in-memory reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/earshot"

// Pipeline stages passed to [Metrics.RecordStage].
const (
	StageArchive    = "archive"
	StageDiarize    = "diarize"
	StageTranscribe = "transcribe"
	StageEmotion    = "emotion"
	StageIdentify   = "identify"
	StageAnalysis   = "analysis"
	StagePersist    = "persist"
)

// Frame classes passed to [Metrics.RecordFrame].
const (
	FrameSpeech  = "speech"
	FrameSilence = "silence"
	FrameInvalid = "invalid"
)

// Discard reasons passed to [Metrics.RecordDiscard].
const (
	DiscardTooShort  = "too_short"
	DiscardQueueFull = "queue_full"
	DiscardEmptyText = "empty_text"
)

// Metrics is the set of instruments earshot records into.
type Metrics struct {
	// FramesProcessed is keyed by "class".
	FramesProcessed   metric.Int64Counter
	SegmentsEmitted   metric.Int64Counter
	SegmentsDiscarded metric.Int64Counter // keyed by "reason"

	PipelineDuration metric.Float64Histogram
	StageDuration    metric.Float64Histogram // keyed by "stage"
	QueueDepth       metric.Int64UpDownCounter
	ProfilesCreated  metric.Int64Counter

	// ProviderRequests is keyed by "provider", "kind" and "status";
	// ProviderErrors by "provider" and "kind".
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is keyed by "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// Model calls take anything from a few milliseconds to most of a minute.
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// instruments collects the first errors of a run of instrument constructors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

func (b *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		FramesProcessed:   b.counter("earshot.frames.processed", "Audio frames classified by the voice activity detector."),
		SegmentsEmitted:   b.counter("earshot.segments.emitted", "Speech segments handed to the pipeline."),
		SegmentsDiscarded: b.counter("earshot.segments.discarded", "Speech segments dropped before publication."),

		PipelineDuration: b.seconds("earshot.pipeline.duration", "Time from dequeue to publication of one segment.", latencyBuckets...),
		StageDuration:    b.seconds("earshot.stage.duration", "Time spent in one pipeline stage.", latencyBuckets...),
		QueueDepth:       b.gauge("earshot.pipeline.queue_depth", "Segments waiting for a pipeline worker."),
		ProfilesCreated:  b.counter("earshot.profiles.created", "Voice profiles created for unmatched speakers."),

		ProviderRequests: b.counter("earshot.provider.requests", "Calls to external model providers."),
		ProviderErrors:   b.counter("earshot.provider.errors", "Failed calls to external model providers."),

		ActiveSessions: b.gauge("earshot.active_sessions", "Open ingest sessions."),

		HTTPRequestDuration: b.seconds("earshot.http.request.duration", "HTTP request latency per route."),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], bound to
// [otel.GetMeterProvider] on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr shortens attribute.String at call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call with its outcome.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordFrame counts one classified frame.
func (m *Metrics) RecordFrame(ctx context.Context, class string) {
	m.FramesProcessed.Add(ctx, 1, metric.WithAttributes(Attr("class", class)))
}

// RecordDiscard counts one dropped segment.
func (m *Metrics) RecordDiscard(ctx context.Context, reason string) {
	m.SegmentsDiscarded.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordStage records how long stage ran since start.
func (m *Metrics) RecordStage(ctx context.Context, stage string, start time.Time) {
	m.StageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(Attr("stage", stage)))
}
