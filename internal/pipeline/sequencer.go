package pipeline

import "sync"

// Sequencer releases per-session results in the order their tickets were
// issued, whatever order the workers finish in.
//
// Publish callbacks run outside the sequencer lock. Within one session they
// run one at a time on whichever goroutine completed the next ticket in
// line, so a slow callback delays only its own session.
type Sequencer struct {
	mu       sync.Mutex
	sessions map[string]*sequence
}

type sequence struct {
	issued    uint64
	published uint64
	pending   map[uint64]func()
	draining  bool
}

// NewSequencer creates an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{sessions: make(map[string]*sequence)}
}

// Ticket reserves the next publication slot of sessionID.
func (s *Sequencer) Ticket(sessionID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sessions[sessionID]
	if !ok {
		seq = &sequence{pending: make(map[uint64]func())}
		s.sessions[sessionID] = seq
	}
	seq.issued++
	return seq.issued
}

// Done completes ticket. publish runs once every earlier ticket of the
// session has been published; a nil publish just releases the slot.
func (s *Sequencer) Done(sessionID string, ticket uint64, publish func()) {
	s.mu.Lock()
	seq, ok := s.sessions[sessionID]
	if !ok || ticket <= seq.published || ticket > seq.issued {
		s.mu.Unlock()
		return
	}
	if _, dup := seq.pending[ticket]; dup {
		s.mu.Unlock()
		return
	}
	seq.pending[ticket] = publish
	if seq.draining {
		// The goroutine draining this session picks the ticket up.
		s.mu.Unlock()
		return
	}
	seq.draining = true

	for {
		fn, ready := seq.pending[seq.published+1]
		if !ready {
			break
		}
		delete(seq.pending, seq.published+1)
		seq.published++
		if fn == nil {
			continue
		}
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	seq.draining = false
	if seq.published == seq.issued && s.sessions[sessionID] == seq {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
}

// Pending returns the number of tickets of sessionID not yet published.
func (s *Sequencer) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sessions[sessionID]
	if !ok {
		return 0
	}
	return int(seq.issued - seq.published)
}
