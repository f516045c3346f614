package observe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects the default logger into a buffer.
func captureLog(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestSessionID(t *testing.T) {
	ctx := context.Background()
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	if got := SessionID(WithSession(ctx, "")); got != "" {
		t.Errorf("empty id was stored: %q", got)
	}
	if got := SessionID(WithSession(ctx, "table-1")); got != "table-1" {
		t.Errorf("SessionID = %q, want table-1", got)
	}
}

func TestStartSpan_SessionAttribute(t *testing.T) {
	exp := useTestTracer(t)

	ctx := WithSession(context.Background(), "table-1")
	ctx, span := StartSpan(ctx, "pipeline.process")
	if len(CorrelationID(ctx)) != 32 {
		t.Errorf("CorrelationID = %q, want a 32 char trace id", CorrelationID(ctx))
	}
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	var found bool
	for _, kv := range spans[0].Attributes {
		if kv.Key == AttrSessionID && kv.Value.AsString() == "table-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v lack the session id", spans[0].Attributes)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("span without error has error status")
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpan(context.Background(), "transcribe")
	EndSpan(span, errors.New("whisper: 503"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "whisper: 503" {
		t.Errorf("status = %+v", spans[0].Status)
	}
	if len(spans[0].Events) == 0 {
		t.Error("error event not recorded")
	}
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name    string
		session string
		span    bool
		want    []string
		absent  []string
	}{
		{name: "bare", absent: []string{"trace_id", "session_id"}},
		{name: "session only", session: "table-1", want: []string{"session_id=table-1"}, absent: []string{"trace_id"}},
		{name: "span and session", session: "table-2", span: true, want: []string{"trace_id=", "span_id=", "session_id=table-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useTestTracer(t)
			buf := captureLog(t)

			ctx := WithSession(context.Background(), tt.session)
			if tt.span {
				c, s := StartSpan(ctx, "log-test")
				defer s.End()
				ctx = c
			}
			Logger(ctx).Info("segment emitted")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q lacks %q", out, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out, a) {
					t.Errorf("log %q contains %q", out, a)
				}
			}
		})
	}
}
