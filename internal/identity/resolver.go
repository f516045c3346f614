// Package identity maps voice fingerprints to persistent speaker profiles.
//
// The [Resolver] compares an incoming fingerprint against every stored
// profile by cosine similarity and returns the closest one when it clears the
// match threshold. Otherwise it mints a new "Unknown Speaker N" profile.
// Identify calls are serialized, so concurrent pipeline workers never create
// two profiles for the same unseen voice.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/types"
)

// DefaultThreshold is the minimum cosine similarity for a fingerprint to
// match an existing profile.
const DefaultThreshold = 0.85

// ErrNotFound is returned by [Resolver.Delete] for an unknown profile id. It
// is the same sentinel as [memory.ErrNotFound].
var ErrNotFound = memory.ErrNotFound

// ErrEmptyFingerprint is returned by [Resolver.Identify] for a nil or
// zero-length fingerprint.
var ErrEmptyFingerprint = errors.New("identity: empty fingerprint")

// Match is the result of [Resolver.Identify].
type Match struct {
	ProfileID string
	Name      string

	// IsNew reports whether the profile was created by this call.
	IsNew bool

	// Similarity is the cosine similarity to the matched profile. Zero for a
	// new profile.
	Similarity float64
}

// Resolver resolves fingerprints to voice profiles. Safe for concurrent use.
type Resolver struct {
	store   memory.ProfileStore
	metrics *observe.Metrics

	mu        sync.Mutex // serializes Identify and guards threshold
	threshold float64
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithThreshold overrides [DefaultThreshold].
func WithThreshold(t float64) Option {
	return func(r *Resolver) { r.threshold = t }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver returns a Resolver backed by store. If store also implements
// [memory.NearestSearcher] the nearest candidate is looked up through it
// instead of scanning every profile.
func NewResolver(store memory.ProfileStore, opts ...Option) *Resolver {
	r := &Resolver{
		store:     store,
		threshold: DefaultThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Threshold returns the current match threshold.
func (r *Resolver) Threshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// SetThreshold replaces the match threshold. Takes effect on the next
// Identify call.
func (r *Resolver) SetThreshold(t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = t
}

// Identify returns the profile matching fingerprint, creating one when no
// stored profile reaches the threshold.
func (r *Resolver) Identify(ctx context.Context, fingerprint []float32) (Match, error) {
	if len(fingerprint) == 0 {
		return Match{}, ErrEmptyFingerprint
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	best, sim, err := r.nearest(ctx, fingerprint)
	switch {
	case err == nil && sim >= r.threshold:
		return Match{ProfileID: best.ID, Name: best.Name, Similarity: sim}, nil
	case err != nil && !errors.Is(err, memory.ErrNotFound):
		return Match{}, fmt.Errorf("identity: identify: %w", err)
	}

	vp, err := r.store.CreateProfile(ctx, fingerprint)
	if err != nil {
		return Match{}, fmt.Errorf("identity: create profile: %w", err)
	}
	r.metrics.ProfilesCreated.Add(ctx, 1)
	slog.Info("new voice profile", "profile_id", vp.ID, "best_similarity", sim)
	return Match{ProfileID: vp.ID, Name: vp.Name, IsNew: true}, nil
}

// nearest returns the closest profile and its similarity, or
// memory.ErrNotFound when there is no comparable candidate.
func (r *Resolver) nearest(ctx context.Context, fingerprint []float32) (types.VoiceProfile, float64, error) {
	if ns, ok := r.store.(memory.NearestSearcher); ok {
		return ns.NearestProfile(ctx, fingerprint)
	}

	profiles, err := r.store.ListProfiles(ctx)
	if err != nil {
		return types.VoiceProfile{}, 0, err
	}
	var (
		best    types.VoiceProfile
		bestSim = -2.0
		found   bool
	)
	for _, vp := range profiles {
		sim, ok := Cosine(fingerprint, vp.Fingerprint)
		if !ok {
			continue
		}
		if sim > bestSim {
			best, bestSim, found = vp, sim, true
		}
	}
	if !found {
		return types.VoiceProfile{}, 0, memory.ErrNotFound
	}
	return best, bestSim, nil
}

// Rename sets the display name of profile id. It reports false when the
// profile does not exist.
func (r *Resolver) Rename(ctx context.Context, id, name string) (bool, error) {
	err := r.store.RenameProfile(ctx, id, name)
	if errors.Is(err, memory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("identity: rename %q: %w", id, err)
	}
	return true, nil
}

// Delete removes profile id. Returns an error wrapping [ErrNotFound] for an
// unknown id.
func (r *Resolver) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteProfile(ctx, id); err != nil {
		return fmt.Errorf("identity: delete: %w", err)
	}
	return nil
}

// List returns every stored profile.
func (r *Resolver) List(ctx context.Context) ([]types.VoiceProfile, error) {
	profiles, err := r.store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: list: %w", err)
	}
	return profiles, nil
}

// Cosine returns the cosine similarity of a and b. ok is false when the
// lengths differ or either vector has zero norm.
func Cosine(a, b []float32) (sim float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	x, y := widen(a), widen(b)
	na, nb := floats.Norm(x, 2), floats.Norm(y, 2)
	if na == 0 || nb == 0 {
		return 0, false
	}
	return floats.Dot(x, y) / (na * nb), true
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
