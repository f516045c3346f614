// Package inmem provides process-local implementations of the memory
// interfaces. Data is lost on restart; use it for development, tests, and
// deployments without a database.
package inmem

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/types"
)

var (
	_ memory.SegmentStore = (*SegmentStore)(nil)
	_ memory.ProfileStore = (*ProfileStore)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// Segments
// ─────────────────────────────────────────────────────────────────────────────

// SegmentStore keeps segments in insertion order. Safe for concurrent use.
type SegmentStore struct {
	mu     sync.RWMutex
	nextID int64
	segs   []types.Segment // ordered by ID
	now    func() time.Time
}

// NewSegmentStore returns an empty store.
func NewSegmentStore() *SegmentStore {
	return &SegmentStore{now: time.Now}
}

// CreateSegment implements [memory.SegmentStore].
func (s *SegmentStore) CreateSegment(_ context.Context, seg *types.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	seg.ID = s.nextID
	seg.CreatedAt = s.now()
	s.segs = append(s.segs, cloneSegment(*seg))
	return nil
}

// GetSegment implements [memory.SegmentStore].
func (s *SegmentStore) GetSegment(_ context.Context, id int64) (types.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index(id)
	if !ok {
		return types.Segment{}, fmt.Errorf("segment %d: %w", id, memory.ErrNotFound)
	}
	return cloneSegment(s.segs[i]), nil
}

// UpdateSegment implements [memory.SegmentStore].
func (s *SegmentStore) UpdateSegment(_ context.Context, seg types.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index(seg.ID)
	if !ok {
		return fmt.Errorf("segment %d: %w", seg.ID, memory.ErrNotFound)
	}
	cur := &s.segs[i]
	cur.SpeakerID = seg.SpeakerID
	cur.SpeakerName = seg.SpeakerName
	cur.CharacterID = seg.CharacterID
	cur.Analysis = seg.Analysis
	cur.Rating = seg.Rating
	cur.Feedback = seg.Feedback
	*cur = cloneSegment(*cur)
	return nil
}

// RecentSegments implements [memory.SegmentStore].
func (s *SegmentStore) RecentSegments(_ context.Context, sessionID string, beforeID int64, limit int) ([]types.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Segment
	for i := len(s.segs) - 1; i >= 0 && len(out) < limit; i-- {
		seg := s.segs[i]
		if seg.SessionID != sessionID || (beforeID > 0 && seg.ID >= beforeID) {
			continue
		}
		out = append(out, cloneSegment(seg))
	}
	slices.Reverse(out)
	return out, nil
}

// ListSegments implements [memory.SegmentStore].
func (s *SegmentStore) ListSegments(_ context.Context, f memory.SegmentFilter) ([]types.Segment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = memory.DefaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []types.Segment{}
	for i := len(s.segs) - 1; i >= 0 && len(out) < limit; i-- {
		seg := s.segs[i]
		if f.SessionID != "" && seg.SessionID != f.SessionID {
			continue
		}
		if f.SpeakerID != "" && seg.SpeakerID != f.SpeakerID {
			continue
		}
		out = append(out, cloneSegment(seg))
	}
	return out, nil
}

func (s *SegmentStore) index(id int64) (int, bool) {
	return slices.BinarySearchFunc(s.segs, id, func(seg types.Segment, id int64) int {
		switch {
		case seg.ID < id:
			return -1
		case seg.ID > id:
			return 1
		}
		return 0
	})
}

func cloneSegment(seg types.Segment) types.Segment {
	if seg.CharacterID != nil {
		id := *seg.CharacterID
		seg.CharacterID = &id
	}
	if seg.Rating != nil {
		r := *seg.Rating
		seg.Rating = &r
	}
	if seg.Emotion != nil {
		seg.Emotion = cloneMap(seg.Emotion)
	}
	if seg.Analysis.Structured != nil {
		seg.Analysis.Structured = cloneMap(seg.Analysis.Structured)
	}
	return seg
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Voice profiles
// ─────────────────────────────────────────────────────────────────────────────

// ProfileStore keeps voice profiles in creation order. Safe for concurrent
// use. It does not implement [memory.NearestSearcher]; callers scan
// [ProfileStore.ListProfiles].
type ProfileStore struct {
	mu       sync.RWMutex
	seq      int64
	profiles []types.VoiceProfile
	now      func() time.Time
}

// NewProfileStore returns an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{now: time.Now}
}

// ListProfiles implements [memory.ProfileStore].
func (p *ProfileStore) ListProfiles(context.Context) ([]types.VoiceProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.VoiceProfile, len(p.profiles))
	for i, vp := range p.profiles {
		out[i] = cloneProfile(vp)
	}
	return out, nil
}

// GetProfile implements [memory.ProfileStore].
func (p *ProfileStore) GetProfile(_ context.Context, id string) (types.VoiceProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := p.index(id)
	if i < 0 {
		return types.VoiceProfile{}, fmt.Errorf("profile %q: %w", id, memory.ErrNotFound)
	}
	return cloneProfile(p.profiles[i]), nil
}

// CreateProfile implements [memory.ProfileStore].
func (p *ProfileStore) CreateProfile(_ context.Context, fingerprint []float32) (types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	now := p.now()
	vp := types.VoiceProfile{
		ID:          memory.ProfileID(p.seq),
		Name:        memory.ProfileName(p.seq),
		Fingerprint: slices.Clone(fingerprint),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.profiles = append(p.profiles, vp)
	return cloneProfile(vp), nil
}

// RenameProfile implements [memory.ProfileStore].
func (p *ProfileStore) RenameProfile(_ context.Context, id, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.index(id)
	if i < 0 {
		return fmt.Errorf("profile %q: %w", id, memory.ErrNotFound)
	}
	p.profiles[i].Name = name
	p.profiles[i].UpdatedAt = p.now()
	return nil
}

// DeleteProfile implements [memory.ProfileStore]. The sequence is not
// rewound, so ids are never reused.
func (p *ProfileStore) DeleteProfile(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.index(id)
	if i < 0 {
		return fmt.Errorf("profile %q: %w", id, memory.ErrNotFound)
	}
	p.profiles = slices.Delete(p.profiles, i, i+1)
	return nil
}

func (p *ProfileStore) index(id string) int {
	return slices.IndexFunc(p.profiles, func(vp types.VoiceProfile) bool { return vp.ID == id })
}

func cloneProfile(vp types.VoiceProfile) types.VoiceProfile {
	vp.Fingerprint = slices.Clone(vp.Fingerprint)
	return vp
}
