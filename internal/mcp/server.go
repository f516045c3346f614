// Package mcp exposes the transcript log and the speaker roster as Model
// Context Protocol tools, so that external agents can query what was said
// and by whom, and correct speaker attributions.
//
// The server is stateless over the stores it wraps; [Server.Handler] serves
// the streamable HTTP transport and [Server.Connect] attaches any other
// transport (stdio, in-memory).
package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/types"
)

// Segments reads persisted segments.
type Segments interface {
	GetSegment(ctx context.Context, id int64) (types.Segment, error)
	ListSegments(ctx context.Context, f memory.SegmentFilter) ([]types.Segment, error)
}

// Speakers lists voice profiles. *identity.Resolver satisfies it.
type Speakers interface {
	List(ctx context.Context) ([]types.VoiceProfile, error)
}

// Rebinder reassigns a segment to a named speaker.
// *pipeline.Orchestrator satisfies it.
type Rebinder interface {
	RebindSpeaker(ctx context.Context, id int64, newName string) (pipeline.Status, error)
}

// Server holds the MCP tool set.
type Server struct {
	srv *mcpsdk.Server
}

// New registers the tools over the given stores. A nil rebinder leaves the
// rebind_speaker tool out, making the server read-only.
func New(segments Segments, speakers Speakers, rebinder Rebinder, version string) *Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "earshot", Version: version}, nil)
	t := &tools{segments: segments, speakers: speakers, rebinder: rebinder}

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "list_segments",
		Description: "List transcribed segments, newest first. Filters are optional.",
	}, t.listSegments)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_segment",
		Description: "Fetch one transcribed segment with its analysis.",
	}, t.getSegment)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "list_speakers",
		Description: "List the known voice profiles.",
	}, t.listSpeakers)
	if rebinder != nil {
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        "rebind_speaker",
			Description: "Attribute a segment to the named speaker and re-run its analysis.",
		}, t.rebindSpeaker)
	}
	return &Server{srv: srv}
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// Connect serves one session over transport until the peer disconnects.
func (s *Server) Connect(ctx context.Context, transport mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.srv.Connect(ctx, transport, nil)
}

type tools struct {
	segments Segments
	speakers Speakers
	rebinder Rebinder
}

// SegmentInfo is the tool view of a segment.
type SegmentInfo struct {
	ID          int64              `json:"id"`
	SessionID   string             `json:"session_id"`
	Text        string             `json:"text"`
	SpeakerID   string             `json:"speaker_id"`
	SpeakerName string             `json:"speaker_name"`
	CharacterID string             `json:"character_id,omitempty"`
	StartTime   float64            `json:"start_time"`
	EndTime     float64            `json:"end_time"`
	Emotion     map[string]float64 `json:"emotion,omitempty"`
	Analysis    map[string]any     `json:"analysis,omitempty"`
	Report      string             `json:"report,omitempty"`
	CreatedAt   string             `json:"created_at"`
}

func segmentInfo(s types.Segment) SegmentInfo {
	info := SegmentInfo{
		ID:          s.ID,
		SessionID:   s.SessionID,
		Text:        s.Text,
		SpeakerID:   s.SpeakerID,
		SpeakerName: s.SpeakerName,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Emotion:     s.Emotion,
		Analysis:    s.Analysis.Structured,
		Report:      s.Analysis.Report,
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.CharacterID != nil {
		info.CharacterID = *s.CharacterID
	}
	return info
}

type listSegmentsInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"only segments of this session"`
	SpeakerID string `json:"speaker_id,omitempty" jsonschema:"only segments of this voice profile"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of segments, default 100"`
}

type listSegmentsOutput struct {
	Segments []SegmentInfo `json:"segments"`
}

func (t *tools) listSegments(ctx context.Context, _ *mcpsdk.CallToolRequest, in listSegmentsInput) (*mcpsdk.CallToolResult, listSegmentsOutput, error) {
	if in.Limit < 0 {
		return nil, listSegmentsOutput{}, errors.New("limit must not be negative")
	}
	segs, err := t.segments.ListSegments(ctx, memory.SegmentFilter{
		SessionID: in.SessionID,
		SpeakerID: in.SpeakerID,
		Limit:     in.Limit,
	})
	if err != nil {
		return nil, listSegmentsOutput{}, err
	}
	out := listSegmentsOutput{Segments: make([]SegmentInfo, 0, len(segs))}
	for _, s := range segs {
		out.Segments = append(out.Segments, segmentInfo(s))
	}
	return nil, out, nil
}

type getSegmentInput struct {
	ID int64 `json:"id" jsonschema:"segment id"`
}

func (t *tools) getSegment(ctx context.Context, _ *mcpsdk.CallToolRequest, in getSegmentInput) (*mcpsdk.CallToolResult, SegmentInfo, error) {
	seg, err := t.segments.GetSegment(ctx, in.ID)
	if err != nil {
		return nil, SegmentInfo{}, err
	}
	return nil, segmentInfo(seg), nil
}

// SpeakerInfo is the tool view of a voice profile.
type SpeakerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listSpeakersOutput struct {
	Speakers []SpeakerInfo `json:"speakers"`
}

func (t *tools) listSpeakers(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, listSpeakersOutput, error) {
	profiles, err := t.speakers.List(ctx)
	if err != nil {
		return nil, listSpeakersOutput{}, err
	}
	out := listSpeakersOutput{Speakers: make([]SpeakerInfo, 0, len(profiles))}
	for _, p := range profiles {
		out.Speakers = append(out.Speakers, SpeakerInfo{ID: p.ID, Name: p.Name})
	}
	return nil, out, nil
}

type rebindInput struct {
	SegmentID int64  `json:"segment_id" jsonschema:"segment to reassign"`
	Name      string `json:"name" jsonschema:"display name of the speaker"`
}

func (t *tools) rebindSpeaker(ctx context.Context, _ *mcpsdk.CallToolRequest, in rebindInput) (*mcpsdk.CallToolResult, pipeline.Status, error) {
	st, err := t.rebinder.RebindSpeaker(ctx, in.SegmentID, in.Name)
	if err != nil {
		return nil, pipeline.Status{}, err
	}
	return nil, st, nil
}
