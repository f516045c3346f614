package feedback_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MrWong99/earshot/internal/feedback"
)

func TestFileStore_AppendAndReadAll(t *testing.T) {
	t.Parallel()

	fs := feedback.NewFileStore(filepath.Join(t.TempDir(), "logs", "feedback.jsonl"))

	recs, err := fs.ReadAll()
	if err != nil || len(recs) != 0 {
		t.Fatalf("ReadAll on missing file = %v, %v", recs, err)
	}

	if err := fs.Append(feedback.Record{SessionID: "s1", SegmentID: 7, Text: "hello", Rating: 4, Feedback: "good"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := fs.Append(feedback.Record{SessionID: "s1", SegmentID: 8, Text: "bye", Rating: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, err = fs.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].SegmentID != 7 || recs[0].Feedback != "good" || recs[1].Rating != 1 {
		t.Errorf("records = %+v", recs)
	}
	if recs[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestFileStore_RejectsInvalidRating(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	fs := feedback.NewFileStore(path)
	for _, r := range []int{0, 6, -1} {
		if err := fs.Append(feedback.Record{Rating: r}); !errors.Is(err, feedback.ErrInvalidRating) {
			t.Errorf("rating %d: err = %v, want ErrInvalidRating", r, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file created for invalid ratings: %v", err)
	}
}

func TestFileStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	fs := feedback.NewFileStore(filepath.Join(t.TempDir(), "feedback.jsonl"))
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fs.Append(feedback.Record{SegmentID: int64(i), Rating: 3}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	recs, err := fs.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 20 {
		t.Errorf("len = %d, want 20", len(recs))
	}
}
