package entity_test

import (
	"testing"

	"github.com/MrWong99/earshot/internal/entity"
)

func TestNameMatcher_Best(t *testing.T) {
	t.Parallel()

	names := []string{"Eldrinax", "Grimjaw", "Tower of Whispers"}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "misheard two-word name", query: "elder nacks", want: 0},
		{name: "multi-word name", query: "tower of wispers", want: 2},
		{name: "case-insensitive", query: "GRIMJAW", want: 1},
		{name: "unrelated word", query: "hello", want: -1},
		{name: "empty query", query: "  ", want: -1},
	}
	m := entity.NewNameMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := m.Best(tt.query, names); got != tt.want {
				t.Errorf("Best(%q) = %d, want %d", tt.query, got, tt.want)
			}
		})
	}
}

func TestNameMatcher_Score(t *testing.T) {
	t.Parallel()

	m := entity.NewNameMatcher()

	score, _, ok := m.Score("grimjaw", "Grimjaw")
	if !ok || score < 0.99 {
		t.Errorf("exact Score = %v, %v; want >= 0.99, true", score, ok)
	}

	strict := entity.NameMatcher{PhoneticThreshold: 0.99, FuzzyThreshold: 0.99}
	if _, _, ok := strict.Score("elder nacks", "Eldrinax"); ok {
		t.Error("strict matcher accepted a near match")
	}
	if _, _, ok := m.Score("", "Eldrinax"); ok {
		t.Error("empty query accepted")
	}
}
