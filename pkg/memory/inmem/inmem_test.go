package inmem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/memory/inmem"
	"github.com/MrWong99/earshot/pkg/types"
)

// ---- SegmentStore ----

func seedSegments(t *testing.T, s *inmem.SegmentStore, session string, texts ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(texts))
	for _, txt := range texts {
		seg := &types.Segment{SessionID: session, Text: txt, SpeakerName: "A"}
		if err := s.CreateSegment(context.Background(), seg); err != nil {
			t.Fatalf("CreateSegment: %v", err)
		}
		ids = append(ids, seg.ID)
	}
	return ids
}

func TestSegmentStore_CreateAssignsIDs(t *testing.T) {
	t.Parallel()

	s := inmem.NewSegmentStore()
	ids := seedSegments(t, s, "s1", "a", "b")
	if ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
	got, err := s.GetSegment(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "b" || got.CreatedAt.IsZero() {
		t.Errorf("got %+v", got)
	}
}

func TestSegmentStore_RecentSegments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := inmem.NewSegmentStore()
	seedSegments(t, s, "s1", "1", "2", "3")
	seedSegments(t, s, "other", "x")
	seedSegments(t, s, "s1", "4", "5", "6", "7")

	tests := []struct {
		name     string
		beforeID int64
		limit    int
		want     []string
	}{
		{name: "latest five", beforeID: 0, limit: 5, want: []string{"3", "4", "5", "6", "7"}},
		{name: "before id 6", beforeID: 6, limit: 2, want: []string{"3", "4"}},
		{name: "before first", beforeID: 1, limit: 5, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.RecentSegments(ctx, "s1", tc.beforeID, tc.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d segments, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i].Text != tc.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i].Text, tc.want[i])
				}
			}
		})
	}
}

func TestSegmentStore_UpdateOnlyMutableFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := inmem.NewSegmentStore()
	seedSegments(t, s, "s1", "hello")

	rating := 4
	char := "char-1"
	err := s.UpdateSegment(ctx, types.Segment{
		ID:          1,
		Text:        "tampered",
		SpeakerName: "Alice",
		CharacterID: &char,
		Rating:      &rating,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSegment(ctx, 1)
	if got.Text != "hello" {
		t.Errorf("Text changed to %q", got.Text)
	}
	if got.SpeakerName != "Alice" || *got.CharacterID != "char-1" || *got.Rating != 4 {
		t.Errorf("mutable fields not updated: %+v", got)
	}

	if err := s.UpdateSegment(ctx, types.Segment{ID: 99}); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSegmentStore_ListSegments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := inmem.NewSegmentStore()
	seedSegments(t, s, "s1", "a", "b", "c")
	seedSegments(t, s, "s2", "d")

	got, _ := s.ListSegments(ctx, memory.SegmentFilter{SessionID: "s1", Limit: 2})
	if len(got) != 2 || got[0].Text != "c" || got[1].Text != "b" {
		t.Errorf("got %+v, want newest two of s1", got)
	}
	all, _ := s.ListSegments(ctx, memory.SegmentFilter{})
	if len(all) != 4 {
		t.Errorf("len = %d, want 4", len(all))
	}
}

func TestSegmentStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := inmem.NewSegmentStore()
	seg := &types.Segment{SessionID: "s1", Text: "x", Emotion: map[string]float64{"joy": 1}}
	_ = s.CreateSegment(ctx, seg)
	seg.Emotion["joy"] = 0

	got, _ := s.GetSegment(ctx, seg.ID)
	if got.Emotion["joy"] != 1 {
		t.Error("store aliased caller's map")
	}
}

// ---- ProfileStore ----

func TestProfileStore_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := inmem.NewProfileStore()

	a, _ := p.CreateProfile(ctx, []float32{1, 0})
	b, _ := p.CreateProfile(ctx, []float32{0, 1})
	if a.ID != "speaker_1" || a.Name != "Unknown Speaker 1" || b.ID != "speaker_2" {
		t.Errorf("minted %q/%q and %q", a.ID, a.Name, b.ID)
	}

	if err := p.RenameProfile(ctx, "speaker_1", "Alice"); err != nil {
		t.Fatal(err)
	}
	got, _ := p.GetProfile(ctx, "speaker_1")
	if got.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", got.Name)
	}

	if err := p.DeleteProfile(ctx, "speaker_1"); err != nil {
		t.Fatal(err)
	}
	c, _ := p.CreateProfile(ctx, []float32{1, 1})
	if c.ID != "speaker_3" {
		t.Errorf("id after delete = %q, want speaker_3 (never reused)", c.ID)
	}

	list, _ := p.ListProfiles(ctx)
	if len(list) != 2 || list[0].ID != "speaker_2" {
		t.Errorf("list = %+v", list)
	}
}

func TestProfileStore_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := inmem.NewProfileStore()
	if err := p.RenameProfile(ctx, "nope", "x"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Rename err = %v", err)
	}
	if err := p.DeleteProfile(ctx, "nope"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Delete err = %v", err)
	}
	if _, err := p.GetProfile(ctx, "nope"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Get err = %v", err)
	}
}
