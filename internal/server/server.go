// Package server exposes the engine over HTTP.
//
// Audio arrives on a websocket per session; every batch of processed
// segments of that session is pushed back on the same socket as a JSON text
// message. The remaining routes are the operator controls (speaker rebind,
// ratings, segment and speaker listings) plus health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/ingest"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/types"
)

// Control is the operator surface of the pipeline. *pipeline.Orchestrator
// satisfies it.
type Control interface {
	RebindSpeaker(ctx context.Context, id int64, newName string) (pipeline.Status, error)
	RateSegment(ctx context.Context, id int64, rating int, comment string) error
}

// Speakers manages voice profiles. *identity.Resolver satisfies it.
type Speakers interface {
	List(ctx context.Context) ([]types.VoiceProfile, error)
	Rename(ctx context.Context, id, name string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// Segments reads persisted segments.
type Segments interface {
	GetSegment(ctx context.Context, id int64) (types.Segment, error)
	ListSegments(ctx context.Context, f memory.SegmentFilter) ([]types.Segment, error)
}

// Subscriber delivers the encoded segment batches of one session.
// *publish.Hub satisfies it.
type Subscriber interface {
	Subscribe(sessionID string) (<-chan []byte, func())
}

const (
	// maxMessageBytes bounds one inbound websocket message: 10 s of 48 kHz
	// stereo PCM16.
	maxMessageBytes = 10 * 48000 * 2 * 2
	writeTimeout    = 5 * time.Second
)

// Server routes HTTP requests to the engine components.
type Server struct {
	ingest   *ingest.Service
	hub      Subscriber
	control  Control
	speakers Speakers
	segments Segments

	health  *health.Handler
	metrics http.Handler
	sink    *observe.Metrics
	origins []string
	mcp     http.Handler

	streams sync.WaitGroup
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMetrics sets the sink of the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.sink = m }
}

// WithAllowedOrigins allows cross-origin websocket clients from the given
// host patterns.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithMCP mounts the Model Context Protocol endpoint h at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// New creates a Server.
func New(in *ingest.Service, hub Subscriber, control Control, speakers Speakers, segments Segments, opts ...Option) *Server {
	s := &Server{
		ingest:   in,
		hub:      hub,
		control:  control,
		speakers: speakers,
		segments: segments,
		sink:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/audio/{session_id}", s.handleAudio)

	mux.HandleFunc("GET /segments", s.handleListSegments)
	mux.HandleFunc("GET /segments/{id}", s.handleGetSegment)
	mux.HandleFunc("PUT /segments/{id}/speaker", s.handleRebind)
	mux.HandleFunc("POST /segments/{id}/rate", s.handleRate)

	mux.HandleFunc("GET /speakers", s.handleListSpeakers)
	mux.HandleFunc("PUT /speakers/{id}", s.handleRenameSpeaker)
	mux.HandleFunc("DELETE /speakers/{id}", s.handleDeleteSpeaker)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
	return observe.Middleware(s.sink)(mux)
}

// WaitStreams blocks until every audio websocket handler has returned or
// ctx is done. Handlers return once their connection closes; callers cancel
// the request base context first.
func (s *Server) WaitStreams(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errorBody is the JSON body of every non-2xx response except the rebind
// endpoint, which answers with a [pipeline.Status].
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps well-known errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
