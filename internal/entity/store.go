package entity

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested character does not exist or no
// character matches a name.
var ErrNotFound = errors.New("entity: character not found")

// ErrDuplicateID is returned by Add when a character with the same ID already
// exists.
var ErrDuplicateID = errors.New("entity: character with that ID already exists")

// Store manages the character roster.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Add creates a new character. A UUID is assigned when ID is empty.
	// Returns [ErrDuplicateID] if a character with the same ID exists.
	Add(ctx context.Context, c Character) (Character, error)

	// Get retrieves a character by ID or returns [ErrNotFound].
	Get(ctx context.Context, id string) (Character, error)

	// List returns all characters, optionally filtered by tags, ordered by
	// name.
	List(ctx context.Context, opts ListOptions) ([]Character, error)

	// Update replaces an existing character. Returns [ErrNotFound] for an
	// unknown ID.
	Update(ctx context.Context, c Character) error

	// Remove deletes a character by ID. Returns [ErrNotFound] for an
	// unknown ID.
	Remove(ctx context.Context, id string) error

	// BulkImport adds characters one by one and returns how many were added
	// before the first error.
	BulkImport(ctx context.Context, cs []Character) (int, error)

	// FindByName resolves a speaker name to a character. Exact matches on
	// the name or an alias win, compared case-insensitively; otherwise the
	// closest phonetic match above the store's threshold is returned.
	// Returns [ErrNotFound] when nothing matches.
	FindByName(ctx context.Context, name string) (Character, error)
}

// ListOptions narrows the result set of [Store.List].
type ListOptions struct {
	// Tags restricts results to characters that carry all of the given tags.
	Tags []string
}
