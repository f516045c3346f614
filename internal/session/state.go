// Package session owns the per-session mutable state of the live ingest path.
//
// A [State] exists for every active session id and is created lazily by
// [Registry.GetOrCreate]. It is mutated only by the segmenter of its session,
// which holds [State.Lock] for the duration of one chunk. The [Registry]
// evicts states when their websocket closes or after an idle timeout.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// State is the buffer and timer set of one live session.
type State struct {
	mu sync.Mutex

	// ID is the session identifier supplied by the client.
	ID string

	// Raw accumulates input bytes until a full frame is available. It never
	// holds a complete frame between calls.
	Raw []byte

	// Speech is the in-progress utterance: every frame since the first speech
	// frame, trailing silence included.
	Speech []byte

	// VoicedBytes is the length of Speech up to and including its last speech
	// frame.
	VoicedBytes int

	// SilenceFrames counts consecutive silence frames while speaking.
	SilenceFrames int

	// Speaking is true between the first speech frame and segment completion.
	Speaking bool

	// Classifier is the per-session VAD handle, attached on first use.
	Classifier vad.SessionHandle

	// Prefilter is the streaming band-pass applied to frames before
	// classification. Nil when prefiltering is disabled.
	Prefilter *audio.BandPass

	// Converter adapts client input to the engine's sample format. Nil for
	// clients that already send mono PCM16 at the engine rate.
	Converter *audio.Converter

	lastActivity atomic.Int64 // unix nanoseconds
	seq          uint64
}

// Lock acquires exclusive access to the state's buffers.
func (s *State) Lock() { s.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (s *State) Unlock() { s.mu.Unlock() }

// LastActivity returns the time of the last registry touch. It does not wait
// for the state lock.
func (s *State) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *State) touch(now time.Time) { s.lastActivity.Store(now.UnixNano()) }

// NextSeq returns a monotonically increasing sequence number for segments
// cut from this session, starting at 1. Callers must hold the lock.
func (s *State) NextSeq() uint64 {
	s.seq++
	return s.seq
}

// ResetSpeech clears the in-progress utterance and returns to idle. The raw
// frame buffer is left intact. Callers must hold the lock.
func (s *State) ResetSpeech() {
	s.Speech = nil
	s.VoicedBytes = 0
	s.SilenceFrames = 0
	s.Speaking = false
}

// close releases the attached classifier.
func (s *State) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Classifier == nil {
		return nil
	}
	err := s.Classifier.Close()
	s.Classifier = nil
	return err
}
