// Package mock provides test doubles for the memory layer interfaces.
//
// Each mock stores data in an [inmem] backend, records every method call for
// assertion in tests, and exposes exported *Err fields that make a method fail
// instead. All mocks are safe for concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := mock.NewSegmentStore()
//	store.CreateSegmentErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("CreateSegment"); got != 1 {
//	    t.Errorf("expected 1 CreateSegment call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/memory/inmem"
	"github.com/MrWong99/earshot/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder is embedded by every mock.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SegmentStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SegmentStore is a configurable test double for [memory.SegmentStore].
// All exported *Err fields default to nil, in which case the call is served
// by an in-memory store.
type SegmentStore struct {
	recorder
	backing *inmem.SegmentStore

	CreateSegmentErr  error
	GetSegmentErr     error
	UpdateSegmentErr  error
	RecentSegmentsErr error
	ListSegmentsErr   error
}

// NewSegmentStore returns an empty mock.
func NewSegmentStore() *SegmentStore {
	return &SegmentStore{backing: inmem.NewSegmentStore()}
}

// CreateSegment implements [memory.SegmentStore].
func (m *SegmentStore) CreateSegment(ctx context.Context, seg *types.Segment) error {
	m.record("CreateSegment", *seg)
	if m.CreateSegmentErr != nil {
		return m.CreateSegmentErr
	}
	return m.backing.CreateSegment(ctx, seg)
}

// GetSegment implements [memory.SegmentStore].
func (m *SegmentStore) GetSegment(ctx context.Context, id int64) (types.Segment, error) {
	m.record("GetSegment", id)
	if m.GetSegmentErr != nil {
		return types.Segment{}, m.GetSegmentErr
	}
	return m.backing.GetSegment(ctx, id)
}

// UpdateSegment implements [memory.SegmentStore].
func (m *SegmentStore) UpdateSegment(ctx context.Context, seg types.Segment) error {
	m.record("UpdateSegment", seg)
	if m.UpdateSegmentErr != nil {
		return m.UpdateSegmentErr
	}
	return m.backing.UpdateSegment(ctx, seg)
}

// RecentSegments implements [memory.SegmentStore].
func (m *SegmentStore) RecentSegments(ctx context.Context, sessionID string, beforeID int64, limit int) ([]types.Segment, error) {
	m.record("RecentSegments", sessionID, beforeID, limit)
	if m.RecentSegmentsErr != nil {
		return nil, m.RecentSegmentsErr
	}
	return m.backing.RecentSegments(ctx, sessionID, beforeID, limit)
}

// ListSegments implements [memory.SegmentStore].
func (m *SegmentStore) ListSegments(ctx context.Context, f memory.SegmentFilter) ([]types.Segment, error) {
	m.record("ListSegments", f)
	if m.ListSegmentsErr != nil {
		return nil, m.ListSegmentsErr
	}
	return m.backing.ListSegments(ctx, f)
}

var _ memory.SegmentStore = (*SegmentStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// ProfileStore mock
// ─────────────────────────────────────────────────────────────────────────────

// ProfileStore is a configurable test double for [memory.ProfileStore].
type ProfileStore struct {
	recorder
	backing *inmem.ProfileStore

	ListProfilesErr  error
	GetProfileErr    error
	CreateProfileErr error
	RenameProfileErr error
	DeleteProfileErr error
}

// NewProfileStore returns an empty mock.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{backing: inmem.NewProfileStore()}
}

// ListProfiles implements [memory.ProfileStore].
func (m *ProfileStore) ListProfiles(ctx context.Context) ([]types.VoiceProfile, error) {
	m.record("ListProfiles")
	if m.ListProfilesErr != nil {
		return nil, m.ListProfilesErr
	}
	return m.backing.ListProfiles(ctx)
}

// GetProfile implements [memory.ProfileStore].
func (m *ProfileStore) GetProfile(ctx context.Context, id string) (types.VoiceProfile, error) {
	m.record("GetProfile", id)
	if m.GetProfileErr != nil {
		return types.VoiceProfile{}, m.GetProfileErr
	}
	return m.backing.GetProfile(ctx, id)
}

// CreateProfile implements [memory.ProfileStore].
func (m *ProfileStore) CreateProfile(ctx context.Context, fp []float32) (types.VoiceProfile, error) {
	m.record("CreateProfile", fp)
	if m.CreateProfileErr != nil {
		return types.VoiceProfile{}, m.CreateProfileErr
	}
	return m.backing.CreateProfile(ctx, fp)
}

// RenameProfile implements [memory.ProfileStore].
func (m *ProfileStore) RenameProfile(ctx context.Context, id, name string) error {
	m.record("RenameProfile", id, name)
	if m.RenameProfileErr != nil {
		return m.RenameProfileErr
	}
	return m.backing.RenameProfile(ctx, id, name)
}

// DeleteProfile implements [memory.ProfileStore].
func (m *ProfileStore) DeleteProfile(ctx context.Context, id string) error {
	m.record("DeleteProfile", id)
	if m.DeleteProfileErr != nil {
		return m.DeleteProfileErr
	}
	return m.backing.DeleteProfile(ctx, id)
}

var _ memory.ProfileStore = (*ProfileStore)(nil)
