package analysis

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/MrWong99/earshot/pkg/types"
)

// ErrNoParse is returned by [Parse] when no strategy accepts the content.
var ErrNoParse = errors.New("analysis: no parsable content")

// ParseStrategy extracts the structured and human-readable parts from one
// model response.
type ParseStrategy interface {
	Name() string

	// Parse returns ok=false when the strategy does not apply.
	Parse(content string) (types.Analysis, bool)
}

type strategy struct {
	name string
	fn   func(string) (types.Analysis, bool)
}

func (s strategy) Name() string                                { return s.name }
func (s strategy) Parse(content string) (types.Analysis, bool) { return s.fn(content) }

// Built-in strategies, in the order [DefaultStrategies] tries them.
var (
	// FencedJSON takes the first ```json fenced block as the structured part
	// and everything around it as the report.
	FencedJSON ParseStrategy = strategy{"fenced_json", parseFenced}

	// BareObject takes the outermost {...} span as the structured part.
	BareObject ParseStrategy = strategy{"bare_object", parseBare}

	// RepairedJSON runs the fenced block, or the outermost brace span, through
	// a JSON repairer before decoding. It recovers trailing commas, single
	// quotes, unquoted keys and truncated output.
	RepairedJSON ParseStrategy = strategy{"repaired_json", parseRepaired}

	// MarkdownOnly keeps the whole response as the report with an empty
	// structured part.
	MarkdownOnly ParseStrategy = strategy{"markdown_only", parseMarkdown}
)

// DefaultStrategies returns the built-in strategies in precedence order.
func DefaultStrategies() []ParseStrategy {
	return []ParseStrategy{FencedJSON, BareObject, RepairedJSON, MarkdownOnly}
}

// Parse applies strategies in order and returns the first result together
// with the name of the strategy that produced it.
func Parse(content string, strategies []ParseStrategy) (types.Analysis, string, error) {
	if strings.TrimSpace(content) == "" {
		return types.Analysis{}, "", ErrNoParse
	}
	for _, s := range strategies {
		if a, ok := s.Parse(content); ok {
			if a.Structured == nil {
				a.Structured = map[string]any{}
			}
			return a, s.Name(), nil
		}
	}
	return types.Analysis{}, "", ErrNoParse
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)\\s*(\\{.*?\\})\\s*```")

func parseFenced(content string) (types.Analysis, bool) {
	m := fenceRe.FindStringSubmatchIndex(content)
	if m == nil {
		return types.Analysis{}, false
	}
	obj, ok := decodeObject(content[m[2]:m[3]])
	if !ok {
		return types.Analysis{}, false
	}
	return types.Analysis{Structured: obj, Report: cutSpan(content, m[0], m[1])}, true
}

func parseBare(content string) (types.Analysis, bool) {
	lo, hi, ok := braceSpan(content)
	if !ok {
		return types.Analysis{}, false
	}
	obj, ok := decodeObject(content[lo:hi])
	if !ok {
		return types.Analysis{}, false
	}
	return types.Analysis{Structured: obj, Report: cutSpan(content, lo, hi)}, true
}

func parseRepaired(content string) (types.Analysis, bool) {
	var lo, hi int
	if m := fenceRe.FindStringSubmatchIndex(content); m != nil {
		repaired, ok := repairObject(content[m[2]:m[3]])
		if !ok {
			return types.Analysis{}, false
		}
		return types.Analysis{Structured: repaired, Report: cutSpan(content, m[0], m[1])}, true
	}

	start := strings.IndexByte(content, '{')
	if start < 0 {
		return types.Analysis{}, false
	}
	lo, hi = start, len(content)
	if end := strings.LastIndexByte(content, '}'); end > start {
		hi = end + 1
	}
	repaired, ok := repairObject(content[lo:hi])
	if !ok {
		return types.Analysis{}, false
	}
	return types.Analysis{Structured: repaired, Report: cutSpan(content, lo, hi)}, true
}

func parseMarkdown(content string) (types.Analysis, bool) {
	report := strings.TrimSpace(content)
	if report == "" {
		return types.Analysis{}, false
	}
	return types.Analysis{Structured: map[string]any{}, Report: report}, true
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func repairObject(s string) (map[string]any, bool) {
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, false
	}
	return decodeObject(fixed)
}

// braceSpan returns the outermost {...} span of s.
func braceSpan(s string) (lo, hi int, ok bool) {
	lo = strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if lo < 0 || end <= lo {
		return 0, 0, false
	}
	return lo, end + 1, true
}

// cutSpan returns s without s[lo:hi], trimmed.
func cutSpan(s string, lo, hi int) string {
	return strings.TrimSpace(strings.TrimSpace(s[:lo]) + "\n\n" + strings.TrimSpace(s[hi:]))
}
