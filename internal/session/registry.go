package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
)

// DefaultIdleTimeout is used when no idle timeout is configured.
const DefaultIdleTimeout = 5 * time.Minute

// Registry is a mutex-guarded map from session id to [State].
//
// All methods are safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State

	idleTimeout time.Duration
	now         func() time.Time
	metrics     *observe.Metrics
}

// Option configures a [Registry].
type Option func(*Registry)

// WithIdleTimeout sets how long a session may go untouched before the
// sweeper evicts it.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics sets the metrics sink for the active-sessions gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		states:      make(map[string]*State),
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		metrics:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate returns the state for id, creating it if necessary. Every call
// refreshes the session's last-activity time.
func (r *Registry) GetOrCreate(id string) *State {
	now := r.now()

	r.mu.Lock()
	st, ok := r.states[id]
	if !ok {
		st = &State{ID: id}
		r.states[id] = st
	}
	// Touched under r.mu so a concurrent Sweep sees the refresh before it
	// evicts.
	st.touch(now)
	r.mu.Unlock()

	if !ok {
		r.metrics.ActiveSessions.Add(context.Background(), 1)
		slog.Debug("session: created", "session_id", id)
	}
	return st
}

// Get returns the state for id without creating or touching it.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return st, ok
}

// Delete removes and releases the state for id. Deleting an unknown id is a
// no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	st, ok := r.states[id]
	delete(r.states, id)
	r.mu.Unlock()

	if ok {
		r.release(st)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Sweep evicts every session idle for longer than the idle timeout at now
// and returns the evicted ids.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	live := make([]*State, 0, len(r.states))
	for _, st := range r.states {
		live = append(live, st)
	}
	r.mu.Unlock()

	var idle []*State
	for _, st := range live {
		if r.idle(st, now) {
			idle = append(idle, st)
		}
	}
	if len(idle) == 0 {
		return []string{}
	}

	r.mu.Lock()
	stale := idle[:0]
	for _, st := range idle {
		// Replaced, deleted or touched since the scan.
		if r.states[st.ID] != st || !r.idle(st, now) {
			continue
		}
		delete(r.states, st.ID)
		stale = append(stale, st)
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, st := range stale {
		r.release(st)
		ids = append(ids, st.ID)
		slog.Info("session: evicted idle session", "session_id", st.ID, "idle_timeout", r.idleTimeout)
	}
	return ids
}

func (r *Registry) idle(st *State, now time.Time) bool {
	return now.Sub(st.LastActivity()) > r.idleTimeout
}

// Run sweeps idle sessions periodically until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Close releases every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	states := r.states
	r.states = make(map[string]*State)
	r.mu.Unlock()

	for _, st := range states {
		r.release(st)
	}
	return nil
}

func (r *Registry) release(st *State) {
	if err := st.close(); err != nil {
		slog.Warn("session: close classifier", "session_id", st.ID, "err", err)
	}
	r.metrics.ActiveSessions.Add(context.Background(), -1)
}
