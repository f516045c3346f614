package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics binds a Metrics to a manual reader.
func newTestMetrics(t *testing.T) (*Metrics, func() metricdata.ResourceMetrics) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, func() metricdata.ResourceMetrics {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		return rm
	}
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumPoint returns the int64 sum of name at the data point whose attributes
// contain every pair in attrs.
func sumPoint(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want an int64 sum", name, met.Data)
	}
next:
	for _, dp := range sum.DataPoints {
		for _, kv := range attrs {
			if v, ok := dp.Attributes.Value(kv.Key); !ok || v != kv.Value {
				continue next
			}
		}
		return dp.Value
	}
	t.Fatalf("%s has no point with %v", name, attrs)
	return 0
}

func TestRecorders(t *testing.T) {
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, FrameSpeech)
	m.RecordFrame(ctx, FrameSpeech)
	m.RecordFrame(ctx, FrameSilence)
	m.RecordDiscard(ctx, DiscardTooShort)
	m.RecordDiscard(ctx, DiscardQueueFull)
	m.RecordDiscard(ctx, DiscardQueueFull)
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "error")
	m.RecordProviderError(ctx, "whisper", "stt")
	m.SegmentsEmitted.Add(ctx, 3)
	m.ActiveSessions.Add(ctx, 2)
	m.QueueDepth.Add(ctx, 4)
	m.QueueDepth.Add(ctx, -1)

	rm := collect()
	tests := []struct {
		metric string
		attrs  []attribute.KeyValue
		want   int64
	}{
		{"earshot.frames.processed", []attribute.KeyValue{Attr("class", FrameSpeech)}, 2},
		{"earshot.frames.processed", []attribute.KeyValue{Attr("class", FrameSilence)}, 1},
		{"earshot.segments.discarded", []attribute.KeyValue{Attr("reason", DiscardTooShort)}, 1},
		{"earshot.segments.discarded", []attribute.KeyValue{Attr("reason", DiscardQueueFull)}, 2},
		{"earshot.provider.requests", []attribute.KeyValue{Attr("provider", "openai"), Attr("status", "ok")}, 2},
		{"earshot.provider.requests", []attribute.KeyValue{Attr("kind", "llm"), Attr("status", "error")}, 1},
		{"earshot.provider.errors", []attribute.KeyValue{Attr("kind", "stt")}, 1},
		{"earshot.segments.emitted", nil, 3},
		{"earshot.active_sessions", nil, 2},
		{"earshot.pipeline.queue_depth", nil, 3},
	}
	for _, tt := range tests {
		if got := sumPoint(t, rm, tt.metric, tt.attrs...); got != tt.want {
			t.Errorf("%s%v = %d, want %d", tt.metric, tt.attrs, got, tt.want)
		}
	}
}

func TestHistograms(t *testing.T) {
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, StageDiarize, time.Now().Add(-150*time.Millisecond))
	m.PipelineDuration.Record(ctx, 0.4)
	m.PipelineDuration.Record(ctx, 1.2)
	m.HTTPRequestDuration.Record(ctx, 0.002)

	rm := collect()
	tests := []struct {
		metric    string
		wantCount uint64
		minSum    float64
		stage     string
	}{
		{metric: "earshot.stage.duration", wantCount: 1, minSum: 0.15, stage: StageDiarize},
		{metric: "earshot.pipeline.duration", wantCount: 2, minSum: 1.6},
		{metric: "earshot.http.request.duration", wantCount: 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			met := findMetric(rm, tt.metric)
			if met == nil {
				t.Fatal("not recorded")
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("data = %+v, want one histogram point", met.Data)
			}
			dp := hist.DataPoints[0]
			if dp.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", dp.Count, tt.wantCount)
			}
			if dp.Sum < tt.minSum {
				t.Errorf("sum = %v, want >= %v", dp.Sum, tt.minSum)
			}
			if tt.stage != "" {
				if v, _ := dp.Attributes.Value("stage"); v.AsString() != tt.stage {
					t.Errorf("stage = %q, want %q", v.AsString(), tt.stage)
				}
			}
		})
	}
}

func TestDefaultMetrics_Shared(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics is not a singleton")
	}
}
