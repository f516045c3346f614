package entity

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Default acceptance scores for [NameMatcher].
const (
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85
)

// NameMatcher scores how likely a spoken or typed name refers to a roster
// name. Names that share a Double Metaphone code with the candidate are
// accepted at the lower phonetic threshold; otherwise only the Jaro-Winkler
// similarity counts, against the stricter fuzzy threshold.
//
// A NameMatcher is read-only after construction and safe for concurrent use.
type NameMatcher struct {
	PhoneticThreshold float64
	FuzzyThreshold    float64
}

// NewNameMatcher returns a matcher with the default thresholds.
func NewNameMatcher() NameMatcher {
	return NameMatcher{
		PhoneticThreshold: DefaultPhoneticThreshold,
		FuzzyThreshold:    DefaultFuzzyThreshold,
	}
}

// Score compares query with candidate. It returns the similarity in [0, 1]
// and whether it clears the applicable threshold. Phonetic is true when the
// two names share a sound code.
func (m NameMatcher) Score(query, candidate string) (score float64, phonetic, ok bool) {
	q := tokens(query)
	c := tokens(candidate)
	if len(q) == 0 || len(c) == 0 {
		return 0, false, false
	}

	score = similarity(q, c)
	phonetic = sharesCode(q, c)
	if phonetic {
		return score, true, score >= m.PhoneticThreshold
	}
	return score, false, score >= m.FuzzyThreshold
}

// Best returns the index of the candidate that query most likely refers to,
// or -1. Phonetic matches outrank fuzzy ones regardless of score.
func (m NameMatcher) Best(query string, candidates []string) int {
	best, bestScore, bestPhonetic := -1, 0.0, false
	for i, cand := range candidates {
		score, phonetic, ok := m.Score(query, cand)
		if !ok {
			continue
		}
		switch {
		case phonetic && !bestPhonetic,
			phonetic == bestPhonetic && score > bestScore:
			best, bestScore, bestPhonetic = i, score, phonetic
		}
	}
	return best
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// sharesCode reports whether any token of a has a Double Metaphone code in
// common with any token of b.
func sharesCode(a, b []string) bool {
	codes := make(map[string]bool, 2*len(a))
	for _, t := range a {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = true
		}
		if s != "" {
			codes[s] = true
		}
	}
	for _, t := range b {
		p, s := matchr.DoubleMetaphone(t)
		if (p != "" && codes[p]) || (s != "" && codes[s]) {
			return true
		}
	}
	return false
}

// similarity is the highest Jaro-Winkler score across the whole names, the
// names with spaces removed, and every token pair.
func similarity(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if len(a) > 1 || len(b) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false))
	}
	for _, x := range a {
		for _, y := range b {
			score = max(score, matchr.JaroWinkler(x, y, false))
		}
	}
	return score
}
