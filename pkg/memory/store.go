// Package memory defines the persistence contracts of earshot.
//
// Two stores back the engine:
//
//   - [SegmentStore]: the durable log of transcribed, attributed segments.
//     Read back for analysis history, re-analysis and listing.
//   - [ProfileStore]: voice profiles keyed by fingerprint. Backends that can
//     rank candidates server-side additionally implement [NearestSearcher].
//
// All interfaces are public so that alternative backends (Postgres/pgvector,
// in-memory, …) can be supplied without depending on earshot internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"

	"github.com/MrWong99/earshot/pkg/types"
)

// ErrNotFound is returned when a segment or profile does not exist.
var ErrNotFound = errors.New("memory: not found")

// ─────────────────────────────────────────────────────────────────────────────
// Segments
// ─────────────────────────────────────────────────────────────────────────────

// SegmentStore persists segments.
type SegmentStore interface {
	// CreateSegment inserts seg and assigns its ID and CreatedAt.
	CreateSegment(ctx context.Context, seg *types.Segment) error

	// GetSegment returns the segment with the given id or ErrNotFound.
	GetSegment(ctx context.Context, id int64) (types.Segment, error)

	// UpdateSegment writes the mutable fields of seg (speaker, character,
	// analysis, rating, feedback). Returns ErrNotFound for an unknown ID.
	UpdateSegment(ctx context.Context, seg types.Segment) error

	// RecentSegments returns up to limit segments of sessionID, oldest first,
	// taken from the newest end of the log. When beforeID is positive only
	// segments with a smaller ID are considered.
	RecentSegments(ctx context.Context, sessionID string, beforeID int64, limit int) ([]types.Segment, error)

	// ListSegments returns segments matching filter, newest first.
	ListSegments(ctx context.Context, filter SegmentFilter) ([]types.Segment, error)
}

// SegmentFilter narrows [SegmentStore.ListSegments]. Zero fields are ignored.
type SegmentFilter struct {
	SessionID string
	SpeakerID string

	// Limit caps the result size. Zero applies the backend default.
	Limit int
}

// DefaultListLimit is applied when SegmentFilter.Limit is zero.
const DefaultListLimit = 100

// ─────────────────────────────────────────────────────────────────────────────
// Voice profiles
// ─────────────────────────────────────────────────────────────────────────────

// ProfileStore persists voice profiles.
type ProfileStore interface {
	// ListProfiles returns every profile in creation order.
	ListProfiles(ctx context.Context) ([]types.VoiceProfile, error)

	// GetProfile returns the profile with the given id or ErrNotFound.
	GetProfile(ctx context.Context, id string) (types.VoiceProfile, error)

	// CreateProfile stores a new profile for fingerprint. The store mints the
	// identity from its own sequence: ID "speaker_N" and name
	// "Unknown Speaker N".
	CreateProfile(ctx context.Context, fingerprint []float32) (types.VoiceProfile, error)

	// RenameProfile sets the display name. Returns ErrNotFound for an unknown
	// id.
	RenameProfile(ctx context.Context, id, name string) error

	// DeleteProfile removes a profile. Returns ErrNotFound for an unknown id.
	DeleteProfile(ctx context.Context, id string) error
}

// NearestSearcher is implemented by profile stores that can find the most
// similar profile without returning every candidate.
type NearestSearcher interface {
	// NearestProfile returns the profile with the highest cosine similarity
	// to fingerprint among profiles of the same dimension, and that
	// similarity. Returns ErrNotFound when no candidate exists.
	NearestProfile(ctx context.Context, fingerprint []float32) (types.VoiceProfile, float64, error)
}
