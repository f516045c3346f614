// Package feedback keeps an append-only log of operator ratings. Each rating
// is one JSON line, so the file can be tailed or bulk-loaded into other
// tooling without a schema.
package feedback

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrInvalidRating is returned for ratings outside 1..5.
var ErrInvalidRating = errors.New("feedback: rating must be between 1 and 5")

// Record is a single rating entry.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	SegmentID   int64     `json:"segment_id"`
	SpeakerID   string    `json:"speaker_id,omitempty"`
	SpeakerName string    `json:"speaker_name,omitempty"`
	Text        string    `json:"text"`
	Rating      int       `json:"rating"`
	Feedback    string    `json:"feedback,omitempty"`
}

// ValidateRating reports whether r is an acceptable rating.
func ValidateRating(r int) error {
	if r < 1 || r > 5 {
		return ErrInvalidRating
	}
	return nil
}

// FileStore appends records to a JSON lines file. Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore writing to path. The file and its parent
// directory are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the log file location.
func (fs *FileStore) Path() string { return fs.path }

// Append validates rec and writes it as one line. A zero Timestamp is set to
// the current time.
func (fs *FileStore) Append(rec Record) error {
	if err := ValidateRating(rec.Rating); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = fs.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("feedback: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// ReadAll returns every record in the log, oldest first. A missing file
// yields no records.
func (fs *FileStore) ReadAll() ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("feedback: line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("feedback: read: %w", err)
	}
	return out, nil
}
