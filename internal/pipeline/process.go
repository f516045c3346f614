package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/analysis"
	"github.com/MrWong99/earshot/internal/entity"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segmenter"
	"github.com/MrWong99/earshot/internal/transcribe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/features"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/provider/emotion"
	"github.com/MrWong99/earshot/pkg/types"
)

// Speaker identity used when no fingerprint could be taken.
const (
	UnknownSpeakerID   = "unknown"
	UnknownSpeakerName = "Unknown"
)

// speaker is the resolved identity of one diarization label.
type speaker struct {
	id, name string
}

// Process runs one completed segment through the pipeline synchronously and
// returns the persisted segments in utterance order. Utterances that fail to
// persist are logged and left out.
func (o *Orchestrator) Process(ctx context.Context, c segmenter.Completed) (_ []types.Segment, err error) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, c.SessionID), "pipeline.process")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx).With("seq", c.Seq)

	audioPath := o.archive(ctx, c)

	utts, err := o.adapter.Run(ctx, c.Audio)
	if err != nil {
		return nil, fmt.Errorf("pipeline: transcribe: %w", err)
	}
	if len(utts) == 0 {
		o.metrics.RecordDiscard(ctx, observe.DiscardEmptyText)
		log.Debug("pipeline: no speech recognised")
		return nil, nil
	}

	feats := features.Analyze(c.Audio, o.cfg.SampleRate)
	emo := o.classifyEmotion(ctx, c.Audio)
	speakers := o.identifySpeakers(ctx, utts)

	out := make([]types.Segment, 0, len(utts))
	for _, u := range utts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		spk := speakers[u.Label]
		seg := types.Segment{
			SessionID:   c.SessionID,
			Text:        u.Text,
			SpeakerID:   spk.id,
			SpeakerName: spk.name,
			StartTime:   u.Start,
			EndTime:     u.End,
			Emotion:     emo,
			Features:    feats,
			AudioPath:   audioPath,
		}

		req := o.analysisRequest(ctx, &seg, 0)
		seg.Analysis, err = o.analyzer.Analyze(ctx, req)
		if err != nil {
			log.Warn("pipeline: analysis failed", "speaker_id", seg.SpeakerID, "err", err)
		}

		start := time.Now()
		err = o.segments.CreateSegment(ctx, &seg)
		o.metrics.RecordStage(ctx, observe.StagePersist, start)
		if err != nil {
			log.Error("pipeline: persist segment", "speaker_id", seg.SpeakerID, "err", err)
			continue
		}
		out = append(out, seg)
	}
	return out, nil
}

// archive writes the clip to the archive directory and returns its path, or
// "" when archiving is disabled or failed.
func (o *Orchestrator) archive(ctx context.Context, c segmenter.Completed) string {
	if o.cfg.ArchiveDir == "" {
		return ""
	}
	start := time.Now()
	defer o.metrics.RecordStage(ctx, observe.StageArchive, start)

	if err := os.MkdirAll(o.cfg.ArchiveDir, 0o755); err != nil {
		observe.Logger(ctx).Warn("pipeline: create archive dir", "err", err)
		return ""
	}
	path := filepath.Join(o.cfg.ArchiveDir, fmt.Sprintf("%s_%s.wav", safeName(c.SessionID), uuid.NewString()))
	if err := audio.WriteWAV(path, c.Audio, o.cfg.SampleRate); err != nil {
		observe.Logger(ctx).Warn("pipeline: archive segment", "err", err)
		return ""
	}
	return path
}

// safeName maps a session id onto characters safe in a file name.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func (o *Orchestrator) classifyEmotion(ctx context.Context, pcm []byte) map[string]float64 {
	if o.emotion == nil {
		return map[string]float64{}
	}
	start := time.Now()
	defer o.metrics.RecordStage(ctx, observe.StageEmotion, start)

	scores, err := o.emotion.Classify(ctx, pcm, o.cfg.SampleRate)
	if err != nil {
		observe.Logger(ctx).Warn("pipeline: emotion classification failed", "err", err)
		return map[string]float64{}
	}
	list := make([]emotion.Score, 0, len(scores))
	for label, s := range scores {
		list = append(list, emotion.Score{Label: label, Score: s})
	}
	return emotion.TopK(list, emotion.DefaultTopK)
}

// identifySpeakers resolves one voice profile per diarization label from the
// averaged fingerprint of the label's utterances.
func (o *Orchestrator) identifySpeakers(ctx context.Context, utts []transcribe.Utterance) map[string]speaker {
	start := time.Now()
	defer o.metrics.RecordStage(ctx, observe.StageIdentify, start)

	prints := make(map[string][][]float32)
	var labels []string
	for _, u := range utts {
		if _, seen := prints[u.Label]; !seen {
			labels = append(labels, u.Label)
			prints[u.Label] = nil
		}
		if fp, ok := features.Fingerprint(u.Audio, o.cfg.SampleRate); ok {
			prints[u.Label] = append(prints[u.Label], fp)
		}
	}

	out := make(map[string]speaker, len(labels))
	for _, label := range labels {
		out[label] = speaker{id: UnknownSpeakerID, name: UnknownSpeakerName}
		if len(prints[label]) == 0 {
			continue
		}
		m, err := o.resolver.Identify(ctx, features.Average(prints[label]...))
		if err != nil {
			observe.Logger(ctx).Warn("pipeline: identify speaker", "label", label, "err", err)
			continue
		}
		out[label] = speaker{id: m.ProfileID, name: m.Name}
	}
	return out
}

// analysisRequest links seg to a character and assembles the analysis input.
// History is taken from segments older than beforeID, or the newest ones when
// beforeID is zero.
func (o *Orchestrator) analysisRequest(ctx context.Context, seg *types.Segment, beforeID int64) analysis.Request {
	req := analysis.Request{
		Text:        seg.Text,
		SpeakerID:   seg.SpeakerID,
		SpeakerName: seg.SpeakerName,
		Features:    seg.Features,
		Emotion:     seg.Emotion,
	}

	seg.CharacterID = nil
	if !isPlaceholderName(seg.SpeakerName) {
		req.CharacterNames = []string{seg.SpeakerName}
		if ch, ok := o.findCharacter(ctx, seg.SpeakerName); ok {
			id := ch.ID
			seg.CharacterID = &id
			req.CharacterNames = []string{ch.Name}
			req.CharacterProfile = ch.Profile()
		}
	}

	history, err := o.segments.RecentSegments(ctx, seg.SessionID, beforeID, o.cfg.HistoryWindow)
	if err != nil {
		observe.Logger(ctx).Warn("pipeline: load history", "session_id", seg.SessionID, "err", err)
	}
	for _, h := range history {
		req.History = append(req.History, h.HistoryLine())
	}
	return req
}

func (o *Orchestrator) findCharacter(ctx context.Context, name string) (entity.Character, bool) {
	if o.characters == nil {
		return entity.Character{}, false
	}
	ch, err := o.characters.FindByName(ctx, name)
	if err != nil {
		if !errors.Is(err, entity.ErrNotFound) {
			observe.Logger(ctx).Warn("pipeline: character lookup", "name", name, "err", err)
		}
		return entity.Character{}, false
	}
	return ch, true
}

// isPlaceholderName reports whether name is one of the generated speaker
// names rather than one given by an operator.
func isPlaceholderName(name string) bool {
	return name == "" || name == UnknownSpeakerName || strings.HasPrefix(name, memory.ProfileNamePrefix)
}
