// Package postgres provides a PostgreSQL-backed implementation of the earshot
// memory interfaces: the segment log and the voice-profile store.
//
// Both share a single [pgxpool.Pool]. Fingerprints are stored in a pgvector
// column and [Store.NearestProfile] ranks candidates in the database with an
// exact cosine scan. Profile tables stay small, and an approximate index
// could miss an exact repeat. The pgvector extension must be available in
// the target database; [Migrate] installs it via CREATE EXTENSION IF NOT
// EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, types.FingerprintDims)
//	if err != nil { … }
//
//	_ = store.CreateSegment(ctx, &seg)
//	vp, sim, err := store.NearestProfile(ctx, fingerprint)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Segment log
// ─────────────────────────────────────────────────────────────────────────────

const ddlSegments = `
CREATE TABLE IF NOT EXISTS segments (
    id            BIGSERIAL         PRIMARY KEY,
    session_id    TEXT              NOT NULL,
    text          TEXT              NOT NULL CHECK (text <> ''),
    speaker_id    TEXT              NOT NULL DEFAULT '',
    speaker_name  TEXT              NOT NULL DEFAULT '',
    character_id  TEXT,
    start_time    DOUBLE PRECISION  NOT NULL DEFAULT 0,
    end_time      DOUBLE PRECISION  NOT NULL DEFAULT 0,
    emotion       JSONB             NOT NULL DEFAULT '{}',
    features      JSONB             NOT NULL DEFAULT '{}',
    analysis      JSONB             NOT NULL DEFAULT '{}',
    audio_path    TEXT              NOT NULL DEFAULT '',
    rating        SMALLINT          CHECK (rating BETWEEN 1 AND 5),
    feedback      TEXT              NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_segments_session_id
    ON segments (session_id, id);

CREATE INDEX IF NOT EXISTS idx_segments_speaker_id
    ON segments (speaker_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// Voice profiles
// ─────────────────────────────────────────────────────────────────────────────

// ddlProfiles returns the profile DDL with the fingerprint dimension
// substituted. The dimension is baked into the column type at schema creation
// time.
func ddlProfiles(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE SEQUENCE IF NOT EXISTS voice_profile_seq;

CREATE TABLE IF NOT EXISTS voice_profiles (
    id           TEXT         PRIMARY KEY,
    seq          BIGINT       NOT NULL UNIQUE,
    name         TEXT         NOT NULL,
    fingerprint  vector(%d)   NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

DROP INDEX IF EXISTS idx_voice_profiles_fingerprint;
`, dims)
}

// Migrate creates or ensures all required tables, sequences and extensions
// exist. It is idempotent and safe to call on every application start.
//
// dims must match the fingerprint extractor (39 for MFCC+deltas). Changing
// it after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	statements := []string{
		ddlProfiles(dims),
		ddlSegments,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
