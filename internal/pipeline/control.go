package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/earshot/internal/feedback"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/memory"
)

// ErrInvalidName is returned by [Orchestrator.RebindSpeaker] for a blank name.
var ErrInvalidName = errors.New("pipeline: speaker name must not be empty")

// Status values reported by [Orchestrator.RebindSpeaker].
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Status is the outcome of an operator action.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func failed(err error) Status {
	return Status{Status: StatusError, Message: err.Error()}
}

// RebindSpeaker assigns newName to the speaker of segment id and re-analyses
// the segment with the corrected identity. When the segment's speaker is a
// minted voice profile, the profile is renamed as well so future segments of
// that voice carry the new name. Only the target segment is rewritten.
//
// The returned Status mirrors the error: on failure it carries the error
// text.
func (o *Orchestrator) RebindSpeaker(ctx context.Context, id int64, newName string) (Status, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return failed(ErrInvalidName), ErrInvalidName
	}

	seg, err := o.segments.GetSegment(ctx, id)
	if err != nil {
		err = fmt.Errorf("pipeline: rebind segment %d: %w", id, err)
		return failed(err), err
	}
	log := observe.Logger(ctx).With("segment_id", id, "session_id", seg.SessionID)

	oldSpeaker := seg.SpeakerID
	seg.SpeakerName = newName

	if memory.IsProfileID(oldSpeaker) {
		ok, rerr := o.resolver.Rename(ctx, oldSpeaker, newName)
		switch {
		case rerr != nil:
			log.Warn("pipeline: rename voice profile", "speaker_id", oldSpeaker, "err", rerr)
		case !ok:
			log.Debug("pipeline: voice profile gone, segment updated only", "speaker_id", oldSpeaker)
		}
	}

	req := o.analysisRequest(ctx, &seg, seg.ID)
	if len(req.CharacterNames) == 0 {
		req.CharacterNames = []string{newName}
	}
	analysed, aerr := o.analyzer.Analyze(ctx, req)
	if aerr != nil {
		if ctx.Err() != nil {
			return failed(ctx.Err()), ctx.Err()
		}
		log.Warn("pipeline: re-analysis failed", "err", aerr)
	}
	seg.Analysis = analysed

	if err := o.segments.UpdateSegment(ctx, seg); err != nil {
		err = fmt.Errorf("pipeline: rebind segment %d: %w", id, err)
		return failed(err), err
	}
	log.Info("pipeline: speaker rebound", "speaker_id", seg.SpeakerID, "speaker_name", newName)
	return Status{Status: StatusSuccess, Message: "updated and re-analysed"}, nil
}

// RateSegment stores an operator rating in [1, 5] with optional free-text
// feedback on segment id and appends it to the feedback log.
func (o *Orchestrator) RateSegment(ctx context.Context, id int64, rating int, comment string) error {
	if err := feedback.ValidateRating(rating); err != nil {
		return err
	}
	seg, err := o.segments.GetSegment(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: rate segment %d: %w", id, err)
	}
	seg.Rating = &rating
	seg.Feedback = comment
	if err := o.segments.UpdateSegment(ctx, seg); err != nil {
		return fmt.Errorf("pipeline: rate segment %d: %w", id, err)
	}

	if o.feedback != nil {
		if err := o.feedback.Append(feedback.Record{
			SessionID:   seg.SessionID,
			SegmentID:   seg.ID,
			SpeakerID:   seg.SpeakerID,
			SpeakerName: seg.SpeakerName,
			Text:        seg.Text,
			Rating:      rating,
			Feedback:    comment,
		}); err != nil {
			return fmt.Errorf("pipeline: rate segment %d: %w", id, err)
		}
	}
	return nil
}
