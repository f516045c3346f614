package entity

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. Rosters are small and loaded at start-up,
// so no durable backend is needed.
type MemStore struct {
	mu         sync.RWMutex
	characters map[string]Character
	matcher    NameMatcher
}

// MemStoreOption configures a [MemStore].
type MemStoreOption func(*MemStore)

// WithNameMatcher overrides the matcher used by [MemStore.FindByName].
func WithNameMatcher(m NameMatcher) MemStoreOption {
	return func(s *MemStore) { s.matcher = m }
}

// NewMemStore returns an empty [MemStore].
func NewMemStore(opts ...MemStoreOption) *MemStore {
	s := &MemStore{
		characters: make(map[string]Character),
		matcher:    NewNameMatcher(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add implements [Store.Add].
func (s *MemStore) Add(_ context.Context, c Character) (Character, error) {
	if err := Validate(c); err != nil {
		return Character{}, fmt.Errorf("entity: add %q: %w", c.Name, err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.characters[c.ID]; exists {
		return Character{}, ErrDuplicateID
	}
	s.characters[c.ID] = clone(c)
	return clone(c), nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[id]
	if !ok {
		return Character{}, ErrNotFound
	}
	return clone(c), nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context, opts ListOptions) ([]Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Character, 0, len(s.characters))
	for _, c := range s.characters {
		if hasTags(c, opts.Tags) {
			out = append(out, clone(c))
		}
	}
	slices.SortFunc(out, func(a, b Character) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(_ context.Context, c Character) error {
	if err := Validate(c); err != nil {
		return fmt.Errorf("entity: update %q: %w", c.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.characters[c.ID]; !ok {
		return ErrNotFound
	}
	s.characters[c.ID] = clone(c)
	return nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.characters[id]; !ok {
		return ErrNotFound
	}
	delete(s.characters, id)
	return nil
}

// BulkImport implements [Store.BulkImport].
func (s *MemStore) BulkImport(ctx context.Context, cs []Character) (int, error) {
	for i, c := range cs {
		if _, err := s.Add(ctx, c); err != nil {
			return i, fmt.Errorf("entity: bulk import at index %d: %w", i, err)
		}
	}
	return len(cs), nil
}

// FindByName implements [Store.FindByName].
func (s *MemStore) FindByName(_ context.Context, name string) (Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Character{}, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		names  []string
		owners []Character
	)
	for _, c := range s.characters {
		for _, n := range c.Names() {
			if strings.EqualFold(n, name) {
				return clone(c), nil
			}
			names = append(names, n)
			owners = append(owners, c)
		}
	}

	if i := s.matcher.Best(name, names); i >= 0 {
		return clone(owners[i]), nil
	}
	return Character{}, ErrNotFound
}

func hasTags(c Character, want []string) bool {
	for _, t := range want {
		if !slices.Contains(c.Tags, t) {
			return false
		}
	}
	return true
}

func clone(c Character) Character {
	c.Aliases = slices.Clone(c.Aliases)
	c.Habits = slices.Clone(c.Habits)
	c.Catchphrases = slices.Clone(c.Catchphrases)
	c.Tags = slices.Clone(c.Tags)
	if c.Attributes != nil {
		attrs := make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			attrs[k] = v
		}
		c.Attributes = attrs
	}
	return c
}
