package transcribe

import "strings"

// DefaultHallucinations are phrases ASR models emit on silence or music
// because of their training data (video outros, subtitle credits). A
// transcript containing any of them is dropped.
var DefaultHallucinations = []string{
	"请不吝点赞",
	"订阅",
	"转发",
	"打赏支持",
	"明镜与点点",
	"字幕",
	"Amara.org",
}

// Filter rejects transcripts that contain a known hallucination phrase.
// The zero value rejects nothing.
type Filter struct {
	phrases []string
}

// NewFilter returns a Filter over phrases. Blank phrases are ignored.
func NewFilter(phrases []string) *Filter {
	f := &Filter{}
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			f.phrases = append(f.phrases, p)
		}
	}
	return f
}

// Clean trims text and reports whether it should be kept. Empty text and
// text containing a hallucination phrase are rejected.
func (f *Filter) Clean(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if f == nil {
		return text, true
	}
	for _, p := range f.phrases {
		if strings.Contains(text, p) {
			return "", false
		}
	}
	return text, true
}
