// Package ingest connects live audio streams to the segmenter and hands every
// completed segment to the pipeline.
//
// A [Stream] is opened per client connection. Several streams may share one
// session id; the session state lives until the last of them closes or the
// registry evicts it for inactivity.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/internal/segmenter"
	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/memory"
)

// ErrUnavailable is returned by [Service.Open] when the engine cannot accept
// audio: no voice-activity engine or no identity store is configured.
var ErrUnavailable = segmenter.ErrUnavailable

// ErrInvalidSession is returned by [Service.Open] for a blank session id.
var ErrInvalidSession = errors.New("ingest: session id must not be empty")

// Submitter receives completed segments. *pipeline.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, c segmenter.Completed) error
}

// Service owns the session registry and the segmenter of the live path.
type Service struct {
	seg      *segmenter.Segmenter
	sessions *session.Registry
	profiles memory.ProfileStore
	sink     Submitter

	mu    sync.Mutex
	conns map[string]int
}

// New creates a Service. A nil profile store makes every Open fail with
// [ErrUnavailable]; so does a segmenter without a VAD engine.
func New(seg *segmenter.Segmenter, sessions *session.Registry, profiles memory.ProfileStore, sink Submitter) *Service {
	return &Service{
		seg:      seg,
		sessions: sessions,
		profiles: profiles,
		sink:     sink,
		conns:    make(map[string]int),
	}
}

// Sessions returns the live session registry.
func (s *Service) Sessions() *session.Registry { return s.sessions }

// Open starts a stream for sessionID. src describes the client's PCM16
// layout; the zero Format means mono at the engine rate.
func (s *Service) Open(ctx context.Context, sessionID string, src audio.Format) (*Stream, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	if s.seg == nil || s.profiles == nil {
		return nil, ErrUnavailable
	}

	st := s.sessions.GetOrCreate(sessionID)
	if err := s.seg.Attach(st); err != nil {
		s.sessions.Delete(sessionID)
		return nil, fmt.Errorf("ingest: open session %q: %w", sessionID, err)
	}

	if src.SampleRate == 0 {
		src.SampleRate = s.seg.Config().SampleRate
	}
	s.installConverter(st, src)

	s.mu.Lock()
	s.conns[sessionID]++
	s.mu.Unlock()

	observe.Logger(ctx).Info("ingest: stream opened", "session_id", sessionID, "format", src.String())
	return &Stream{svc: s, id: sessionID, src: src}, nil
}

// installConverter adapts st to src unless src already is the engine format.
func (s *Service) installConverter(st *session.State, src audio.Format) {
	st.Lock()
	defer st.Unlock()
	if st.Converter != nil {
		return
	}
	if conv := audio.NewConverter(src, s.seg.Config().SampleRate); !conv.Passthrough() {
		st.Converter = conv
	}
}

// release drops one connection from sessionID and reports whether it was
// the last.
func (s *Service) release(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sessionID]--
	if s.conns[sessionID] > 0 {
		return false
	}
	delete(s.conns, sessionID)
	return true
}

// Stream feeds one connection's audio into its session.
type Stream struct {
	svc *Service
	id  string
	src audio.Format

	closeOnce sync.Once
}

// SessionID returns the session the stream writes to.
func (st *Stream) SessionID() string { return st.id }

// Write segments chunk and submits every completed segment. A full pipeline
// queue loses the segment but keeps the stream alive; a closed pipeline is
// reported to the caller.
func (st *Stream) Write(ctx context.Context, chunk []byte) (int, error) {
	// The registry may have evicted an idle session; it is recreated here.
	state := st.svc.sessions.GetOrCreate(st.id)
	st.svc.installConverter(state, st.src)
	done, err := st.svc.seg.Process(state, chunk)
	if err != nil {
		return 0, fmt.Errorf("ingest: session %q: %w", st.id, err)
	}
	return st.submit(ctx, done)
}

func (st *Stream) submit(ctx context.Context, done []segmenter.Completed) (int, error) {
	n := 0
	for _, c := range done {
		switch err := st.svc.sink.Submit(ctx, c); {
		case err == nil:
			n++
		case errors.Is(err, pipeline.ErrQueueFull):
			// Logged and counted by the orchestrator.
		default:
			return n, fmt.Errorf("ingest: session %q: %w", st.id, err)
		}
	}
	return n, nil
}

// Close ends the stream. When it was the session's last stream, an
// utterance still in progress is flushed to the pipeline and the session
// state is released. Segments already submitted keep processing.
func (st *Stream) Close(ctx context.Context) error {
	var err error
	st.closeOnce.Do(func() {
		if !st.svc.release(st.id) {
			return
		}
		if state, ok := st.svc.sessions.Get(st.id); ok {
			if c, ok := st.svc.seg.Flush(state); ok {
				_, err = st.submit(ctx, []segmenter.Completed{c})
			}
		}
		st.svc.sessions.Delete(st.id)
		observe.Logger(ctx).Info("ingest: session closed", "session_id", st.id)
	})
	return err
}
