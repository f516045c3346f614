// Package mock provides scriptable voice-activity classifiers for tests.
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine hands out Session, or a fresh silent Session when Session is nil.
// Every requested Config is kept in NewSessionCalls.
type Engine struct {
	Session       vad.SessionHandle
	NewSessionErr error

	mu              sync.Mutex
	NewSessionCalls []NewSessionCall
}

// NewSessionCall is one recorded [Engine.NewSession].
type NewSessionCall struct {
	Cfg vad.Config
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Loud returns an Engine whose session calls every frame above the given
// RMS level speech and everything else silence.
func Loud(rms float64) *Engine {
	return &Engine{Session: &Session{
		ClassifyFunc: func(frame []byte) (vad.VADEvent, error) {
			if audio.RMS(frame) > rms {
				return vad.SpeechEvent, nil
			}
			return vad.Silence, nil
		},
	}}
}

// Session classifies frames with ClassifyFunc. Without one every frame is
// silence.
type Session struct {
	ClassifyFunc func(frame []byte) (vad.VADEvent, error)
	CloseErr     error

	mu             sync.Mutex
	frames         int
	ResetCallCount int
	CloseCallCount int
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	s.frames++
	fn := s.ClassifyFunc
	s.mu.Unlock()
	if fn == nil {
		return vad.Silence, nil
	}
	return fn(frame)
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// FrameCount reports how many frames were classified.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
