// Package publish fans processed segments out to the live listeners of a
// session.
//
// Every websocket connection subscribes to the hub of its session and
// receives each [Batch] as one JSON text message. Delivery is best-effort: a
// listener whose buffer is full misses the batch instead of stalling the
// pipeline.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

const (
	defaultBuffer = 16
	mirrorTimeout = time.Second
)

// Segment is the wire form of one published segment.
type Segment struct {
	ID          int64              `json:"id"`
	Text        string             `json:"text"`
	SpeakerID   string             `json:"speaker_id"`
	SpeakerName string             `json:"speaker_name"`
	Emotion     map[string]float64 `json:"emotion"`
	Analysis    types.Analysis     `json:"analysis"`
	Timestamp   time.Time          `json:"timestamp"`
}

// FromSegment converts a stored segment to its wire form.
func FromSegment(s types.Segment) Segment {
	emotion := s.Emotion
	if emotion == nil {
		emotion = map[string]float64{}
	}
	a := s.Analysis
	if a.Structured == nil {
		a.Structured = map[string]any{}
	}
	return Segment{
		ID:          s.ID,
		Text:        s.Text,
		SpeakerID:   s.SpeakerID,
		SpeakerName: s.SpeakerName,
		Emotion:     emotion,
		Analysis:    a,
		Timestamp:   s.CreatedAt,
	}
}

// Batch is the message pushed to listeners.
type Batch struct {
	Segments []Segment `json:"segments"`
}

// Mirror receives a copy of every encoded batch, e.g. a Redis channel.
type Mirror interface {
	Publish(ctx context.Context, sessionID string, payload []byte) error
}

type subscriber struct {
	ch chan []byte
}

// Hub routes batches to the subscribers of each session. Safe for concurrent
// use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	mirror Mirror
}

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMirror forwards every published batch to m.
func WithMirror(m Mirror) Option {
	return func(h *Hub) { h.mirror = m }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: defaultBuffer,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a listener for sessionID. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(sessionID string) (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], sub)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of listeners of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Publish encodes b and delivers it to every subscriber of sessionID without
// blocking. It returns the number of subscribers that received it.
func (h *Hub) Publish(ctx context.Context, sessionID string, b Batch) (int, error) {
	if b.Segments == nil {
		b.Segments = []Segment{}
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("publish: marshal batch: %w", err)
	}

	delivered := 0
	h.mu.RLock()
	for sub := range h.subs[sessionID] {
		select {
		case sub.ch <- payload:
			delivered++
		default:
			slog.Warn("publish: listener too slow, batch skipped", "session_id", sessionID)
		}
	}
	h.mu.RUnlock()

	if h.mirror != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := h.mirror.Publish(mctx, sessionID, payload); err != nil {
			slog.Debug("publish: mirror failed", "session_id", sessionID, "err", err)
		}
	}
	return delivered, nil
}
