package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/types"
)

const profileColumns = `id, name, fingerprint, created_at, updated_at`

// ListProfiles implements [memory.ProfileStore].
func (s *Store) ListProfiles(ctx context.Context) ([]types.VoiceProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+profileColumns+` FROM voice_profiles ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("profile store: list: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, scanProfile)
	if err != nil {
		return nil, fmt.Errorf("profile store: scan rows: %w", err)
	}
	if profiles == nil {
		profiles = []types.VoiceProfile{}
	}
	return profiles, nil
}

// GetProfile implements [memory.ProfileStore].
func (s *Store) GetProfile(ctx context.Context, id string) (types.VoiceProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+profileColumns+` FROM voice_profiles WHERE id = $1`, id)
	if err != nil {
		return types.VoiceProfile{}, fmt.Errorf("profile store: get %q: %w", id, err)
	}
	vp, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.VoiceProfile{}, fmt.Errorf("profile %q: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return types.VoiceProfile{}, fmt.Errorf("profile store: get %q: %w", id, err)
	}
	return vp, nil
}

// CreateProfile implements [memory.ProfileStore]. The ordinal comes from the
// voice_profile_seq sequence, so concurrent inserts never mint the same id
// and deleted ids are never reused.
func (s *Store) CreateProfile(ctx context.Context, fingerprint []float32) (types.VoiceProfile, error) {
	if len(fingerprint) != s.dims {
		return types.VoiceProfile{}, fmt.Errorf("profile store: fingerprint has %d dims, want %d", len(fingerprint), s.dims)
	}
	const q = `
		INSERT INTO voice_profiles (id, seq, name, fingerprint)
		SELECT 'speaker_' || n, n, 'Unknown Speaker ' || n, $1
		FROM   (SELECT nextval('voice_profile_seq') AS n) s
		RETURNING ` + profileColumns

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(fingerprint))
	if err != nil {
		return types.VoiceProfile{}, fmt.Errorf("profile store: create: %w", err)
	}
	vp, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if err != nil {
		return types.VoiceProfile{}, fmt.Errorf("profile store: create: %w", err)
	}
	return vp, nil
}

// RenameProfile implements [memory.ProfileStore].
func (s *Store) RenameProfile(ctx context.Context, id, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE voice_profiles SET name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("profile store: rename %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %q: %w", id, memory.ErrNotFound)
	}
	return nil
}

// DeleteProfile implements [memory.ProfileStore].
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM voice_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("profile store: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %q: %w", id, memory.ErrNotFound)
	}
	return nil
}

// NearestProfile implements [memory.NearestSearcher] using the pgvector
// cosine distance operator over every row, so an exact repeat always wins. Fingerprints of the wrong dimension and profiles
// with a zero-norm fingerprint never match.
func (s *Store) NearestProfile(ctx context.Context, fingerprint []float32) (types.VoiceProfile, float64, error) {
	if len(fingerprint) != s.dims {
		return types.VoiceProfile{}, 0, fmt.Errorf("profile store: nearest: %w", memory.ErrNotFound)
	}
	const q = `
		SELECT ` + profileColumns + `,
		       fingerprint <=> $1 AS distance
		FROM   voice_profiles
		ORDER  BY distance
		LIMIT  1`

	var (
		vp       types.VoiceProfile
		vec      pgvector.Vector
		distance float64
	)
	err := s.pool.QueryRow(ctx, q, pgvector.NewVector(fingerprint)).Scan(
		&vp.ID, &vp.Name, &vec, &vp.CreatedAt, &vp.UpdatedAt, &distance,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.VoiceProfile{}, 0, fmt.Errorf("profile store: nearest: %w", memory.ErrNotFound)
	}
	if err != nil {
		return types.VoiceProfile{}, 0, fmt.Errorf("profile store: nearest: %w", err)
	}
	// pgvector yields NaN for zero vectors.
	if math.IsNaN(distance) {
		return types.VoiceProfile{}, 0, fmt.Errorf("profile store: nearest: %w", memory.ErrNotFound)
	}
	vp.Fingerprint = vec.Slice()
	return vp, 1 - distance, nil
}

func scanProfile(row pgx.CollectableRow) (types.VoiceProfile, error) {
	var (
		vp  types.VoiceProfile
		vec pgvector.Vector
	)
	if err := row.Scan(&vp.ID, &vp.Name, &vec, &vp.CreatedAt, &vp.UpdatedAt); err != nil {
		return types.VoiceProfile{}, err
	}
	vp.Fingerprint = vec.Slice()
	return vp, nil
}
