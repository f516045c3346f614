package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/types"
)

const segmentColumns = `id, session_id, text, speaker_id, speaker_name, character_id,
       start_time, end_time, emotion, features, analysis, audio_path,
       rating, feedback, created_at`

// CreateSegment implements [memory.SegmentStore].
func (s *Store) CreateSegment(ctx context.Context, seg *types.Segment) error {
	const q = `
		INSERT INTO segments
		    (session_id, text, speaker_id, speaker_name, character_id,
		     start_time, end_time, emotion, features, analysis, audio_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	emotion := seg.Emotion
	if emotion == nil {
		emotion = map[string]float64{}
	}
	err := s.pool.QueryRow(ctx, q,
		seg.SessionID,
		seg.Text,
		seg.SpeakerID,
		seg.SpeakerName,
		seg.CharacterID,
		seg.StartTime,
		seg.EndTime,
		emotion,
		seg.Features,
		seg.Analysis,
		seg.AudioPath,
	).Scan(&seg.ID, &seg.CreatedAt)
	if err != nil {
		return fmt.Errorf("segment store: create: %w", err)
	}
	return nil
}

// GetSegment implements [memory.SegmentStore].
func (s *Store) GetSegment(ctx context.Context, id int64) (types.Segment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id)
	if err != nil {
		return types.Segment{}, fmt.Errorf("segment store: get %d: %w", id, err)
	}
	seg, err := pgx.CollectExactlyOneRow(rows, scanSegment)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Segment{}, fmt.Errorf("segment %d: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return types.Segment{}, fmt.Errorf("segment store: get %d: %w", id, err)
	}
	return seg, nil
}

// UpdateSegment implements [memory.SegmentStore].
func (s *Store) UpdateSegment(ctx context.Context, seg types.Segment) error {
	const q = `
		UPDATE segments SET
		    speaker_id   = $2,
		    speaker_name = $3,
		    character_id = $4,
		    analysis     = $5,
		    rating       = $6,
		    feedback     = $7
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		seg.ID,
		seg.SpeakerID,
		seg.SpeakerName,
		seg.CharacterID,
		seg.Analysis,
		seg.Rating,
		seg.Feedback,
	)
	if err != nil {
		return fmt.Errorf("segment store: update %d: %w", seg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("segment %d: %w", seg.ID, memory.ErrNotFound)
	}
	return nil
}

// RecentSegments implements [memory.SegmentStore].
func (s *Store) RecentSegments(ctx context.Context, sessionID string, beforeID int64, limit int) ([]types.Segment, error) {
	const q = `
		SELECT * FROM (
		    SELECT ` + segmentColumns + `
		    FROM   segments
		    WHERE  session_id = $1
		      AND  ($2 <= 0 OR id < $2)
		    ORDER  BY id DESC
		    LIMIT  $3
		) recent
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, q, sessionID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("segment store: recent: %w", err)
	}
	return collectSegments(rows)
}

// ListSegments implements [memory.SegmentStore].
func (s *Store) ListSegments(ctx context.Context, f memory.SegmentFilter) ([]types.Segment, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(f.SessionID))
	}
	if f.SpeakerID != "" {
		conditions = append(conditions, "speaker_id = "+next(f.SpeakerID))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = memory.DefaultListLimit
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM   segments
		%s
		ORDER  BY id DESC
		LIMIT  %s`, segmentColumns, whereClause, next(limit))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("segment store: list: %w", err)
	}
	return collectSegments(rows)
}

func scanSegment(row pgx.CollectableRow) (types.Segment, error) {
	var (
		seg    types.Segment
		rating *int16
	)
	if err := row.Scan(
		&seg.ID,
		&seg.SessionID,
		&seg.Text,
		&seg.SpeakerID,
		&seg.SpeakerName,
		&seg.CharacterID,
		&seg.StartTime,
		&seg.EndTime,
		&seg.Emotion,
		&seg.Features,
		&seg.Analysis,
		&seg.AudioPath,
		&rating,
		&seg.Feedback,
		&seg.CreatedAt,
	); err != nil {
		return types.Segment{}, err
	}
	if rating != nil {
		r := int(*rating)
		seg.Rating = &r
	}
	return seg, nil
}

func collectSegments(rows pgx.Rows) ([]types.Segment, error) {
	segs, err := pgx.CollectRows(rows, scanSegment)
	if err != nil {
		return nil, fmt.Errorf("segment store: scan rows: %w", err)
	}
	if segs == nil {
		segs = []types.Segment{}
	}
	return segs, nil
}
