package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/earshot/internal/feedback"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/types"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// segmentView is the JSON form of a stored segment.
type segmentView struct {
	ID          int64              `json:"id"`
	SessionID   string             `json:"session_id"`
	Text        string             `json:"text"`
	SpeakerID   string             `json:"speaker_id"`
	SpeakerName string             `json:"speaker_name"`
	CharacterID *string            `json:"character_id"`
	StartTime   float64            `json:"start_time"`
	EndTime     float64            `json:"end_time"`
	Emotion     map[string]float64 `json:"emotion"`
	Features    types.Features     `json:"features"`
	Analysis    types.Analysis     `json:"analysis"`
	AudioPath   string             `json:"audio_path,omitempty"`
	Rating      *int               `json:"rating"`
	Feedback    string             `json:"feedback,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

func viewSegment(s types.Segment) segmentView {
	emotion := s.Emotion
	if emotion == nil {
		emotion = map[string]float64{}
	}
	return segmentView{
		ID:          s.ID,
		SessionID:   s.SessionID,
		Text:        s.Text,
		SpeakerID:   s.SpeakerID,
		SpeakerName: s.SpeakerName,
		CharacterID: s.CharacterID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Emotion:     emotion,
		Features:    s.Features,
		Analysis:    s.Analysis,
		AudioPath:   s.AudioPath,
		Rating:      s.Rating,
		Feedback:    s.Feedback,
		CreatedAt:   s.CreatedAt,
	}
}

type speakerView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func segmentID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid segment id %q", raw)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := memory.SegmentFilter{
		SessionID: q.Get("session_id"),
		SpeakerID: q.Get("speaker_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		f.Limit = n
	}

	segs, err := s.segments.ListSegments(r.Context(), f)
	if err != nil {
		observe.Logger(r.Context()).Error("server: list segments", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	views := make([]segmentView, 0, len(segs))
	for _, seg := range segs {
		views = append(views, viewSegment(seg))
	}
	writeJSON(w, http.StatusOK, struct {
		Segments []segmentView `json:"segments"`
	}{views})
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	id, err := segmentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seg, err := s.segments.GetSegment(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, viewSegment(seg))
}

// handleRebind answers with a [pipeline.Status] on success and failure.
func (s *Server) handleRebind(w http.ResponseWriter, r *http.Request) {
	id, err := segmentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, pipeline.Status{Status: pipeline.StatusError, Message: err.Error()})
		return
	}
	var body struct {
		SpeakerName string `json:"speaker_name"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, pipeline.Status{Status: pipeline.StatusError, Message: err.Error()})
		return
	}

	st, err := s.control.RebindSpeaker(r.Context(), id, body.SpeakerName)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, st)
	case errors.Is(err, pipeline.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, st)
	default:
		observe.Logger(r.Context()).Warn("server: rebind speaker", "segment_id", id, "err", err)
		writeJSON(w, statusFor(err), st)
	}
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	id, err := segmentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.control.RateSegment(r.Context(), id, body.Rating, body.Feedback)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, pipeline.Status{Status: pipeline.StatusSuccess})
	case errors.Is(err, feedback.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, statusFor(err), err)
	}
}

func (s *Server) handleListSpeakers(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.speakers.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	views := make([]speakerView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, speakerView{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, struct {
		Speakers []speakerView `json:"speakers"`
	}{views})
}

func (s *Server) handleRenameSpeaker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, pipeline.ErrInvalidName)
		return
	}

	ok, err := s.speakers.Rename(r.Context(), id, name)
	switch {
	case err != nil:
		writeError(w, statusFor(err), err)
	case !ok:
		writeError(w, http.StatusNotFound, fmt.Errorf("speaker %q: %w", id, memory.ErrNotFound))
	default:
		writeJSON(w, http.StatusOK, pipeline.Status{Status: pipeline.StatusSuccess})
	}
}

func (s *Server) handleDeleteSpeaker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.speakers.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
