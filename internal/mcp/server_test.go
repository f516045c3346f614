package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/earshot/internal/identity"
	"github.com/MrWong99/earshot/internal/mcp"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/memory/inmem"
	"github.com/MrWong99/earshot/pkg/types"
)

type rebinder struct {
	err   error
	calls []string
}

func (r *rebinder) RebindSpeaker(_ context.Context, _ int64, name string) (pipeline.Status, error) {
	r.calls = append(r.calls, name)
	if r.err != nil {
		return pipeline.Status{Status: pipeline.StatusError, Message: r.err.Error()}, r.err
	}
	return pipeline.Status{Status: pipeline.StatusSuccess, Message: "speaker updated"}, nil
}

type fixture struct {
	client   *mcpsdk.ClientSession
	segments *inmem.SegmentStore
	profiles *inmem.ProfileStore
}

func newFixture(t *testing.T, rb mcp.Rebinder) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{segments: inmem.NewSegmentStore(), profiles: inmem.NewProfileStore()}
	srv := mcp.New(f.segments, identity.NewResolver(f.profiles), rb, "test")

	serverT, clientT := mcpsdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	f.client = cs
	return f
}

// call invokes a tool and decodes its text result into out.
func (f *fixture) call(t *testing.T, name string, args map[string]any, out any) *mcpsdk.CallToolResult {
	t.Helper()
	res, err := f.client.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError || out == nil {
		return res
	}
	if len(res.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): content is %T", name, res.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), out); err != nil {
		t.Fatalf("CallTool(%s): unmarshal %s: %v", name, text.Text, err)
	}
	return res
}

func TestListTools(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rebinder mcp.Rebinder
		want     int
	}{
		{name: "read only", rebinder: nil, want: 3},
		{name: "with rebind", rebinder: &rebinder{}, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.rebinder)
			res, err := f.client.ListTools(context.Background(), nil)
			if err != nil {
				t.Fatalf("ListTools: %v", err)
			}
			if len(res.Tools) != tt.want {
				t.Errorf("got %d tools, want %d", len(res.Tools), tt.want)
			}
		})
	}
}

func TestSegmentTools(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	for i, text := range []string{"first", "second", "third"} {
		seg := &types.Segment{SessionID: "table-1", Text: text, SpeakerID: "speaker_1", SpeakerName: "Mira"}
		if i == 2 {
			seg.SessionID = "table-2"
		}
		if err := f.segments.CreateSegment(ctx, seg); err != nil {
			t.Fatalf("CreateSegment: %v", err)
		}
	}

	var list struct {
		Segments []mcp.SegmentInfo `json:"segments"`
	}
	f.call(t, "list_segments", map[string]any{"session_id": "table-1"}, &list)
	if len(list.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(list.Segments))
	}
	if list.Segments[0].Text != "second" {
		t.Errorf("first result = %q, want newest first", list.Segments[0].Text)
	}

	var one mcp.SegmentInfo
	f.call(t, "get_segment", map[string]any{"id": list.Segments[1].ID}, &one)
	if one.Text != "first" || one.SpeakerName != "Mira" {
		t.Errorf("get_segment = %+v", one)
	}

	if res := f.call(t, "get_segment", map[string]any{"id": 999}, nil); !res.IsError {
		t.Error("get_segment of unknown id succeeded, want tool error")
	}
	if res := f.call(t, "list_segments", map[string]any{"limit": -1}, nil); !res.IsError {
		t.Error("negative limit succeeded, want tool error")
	}
}

func TestListSpeakers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if _, err := f.profiles.CreateProfile(context.Background(), make([]float32, types.FingerprintDims)); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	var out struct {
		Speakers []mcp.SpeakerInfo `json:"speakers"`
	}
	f.call(t, "list_speakers", map[string]any{}, &out)
	if len(out.Speakers) != 1 || out.Speakers[0].ID != "speaker_1" || out.Speakers[0].Name != "Unknown Speaker 1" {
		t.Errorf("speakers = %+v", out.Speakers)
	}
}

func TestRebindSpeaker(t *testing.T) {
	t.Parallel()

	rb := &rebinder{}
	f := newFixture(t, rb)

	var st pipeline.Status
	f.call(t, "rebind_speaker", map[string]any{"segment_id": 1, "name": "Mira"}, &st)
	if st.Status != pipeline.StatusSuccess {
		t.Errorf("status = %+v", st)
	}
	if len(rb.calls) != 1 || rb.calls[0] != "Mira" {
		t.Errorf("calls = %v", rb.calls)
	}

	rb.err = errors.New("segment not found")
	if res := f.call(t, "rebind_speaker", map[string]any{"segment_id": 2, "name": "Mira"}, nil); !res.IsError {
		t.Error("failing rebind succeeded, want tool error")
	}
}
