package entity

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RosterFile is the top-level structure of a character roster YAML file.
//
// Example:
//
//	roster:
//	  name: "Harbour Office, season 2"
//	characters:
//	  - name: "Mara Lindqvist"
//	    aliases: ["Mara", "the captain"]
//	    attributes:
//	      occupation: harbour master
//	    personality: blunt, protective of her crew
//	    catchphrases: ["Tide waits for no one."]
type RosterFile struct {
	Roster     RosterMeta  `yaml:"roster"`
	Characters []Character `yaml:"characters"`
}

// RosterMeta holds top-level metadata for a roster.
type RosterMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// LoadRosterFile reads and parses a roster YAML file from disk.
func LoadRosterFile(path string) (*RosterFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entity: open roster file %q: %w", path, err)
	}
	defer f.Close()

	rf, err := LoadRosterFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("entity: parse roster file %q: %w", path, err)
	}
	return rf, nil
}

// LoadRosterFromReader parses roster YAML from r. Unknown keys are rejected.
func LoadRosterFromReader(r io.Reader) (*RosterFile, error) {
	var rf RosterFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("entity: decode roster yaml: %w", err)
	}
	return &rf, nil
}

// ImportRoster adds every character of roster to store and returns how many
// were added.
func ImportRoster(ctx context.Context, store Store, roster *RosterFile) (int, error) {
	if roster == nil {
		return 0, fmt.Errorf("entity: roster must not be nil")
	}
	n, err := store.BulkImport(ctx, roster.Characters)
	if err != nil {
		return n, fmt.Errorf("entity: import roster %q: %w", roster.Roster.Name, err)
	}
	return n, nil
}

// LoadRosters loads and imports every file in paths, in order.
func LoadRosters(ctx context.Context, store Store, paths []string) (int, error) {
	total := 0
	for _, p := range paths {
		rf, err := LoadRosterFile(p)
		if err != nil {
			return total, err
		}
		n, err := ImportRoster(ctx, store, rf)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
