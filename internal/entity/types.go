// Package entity holds the character roster that speakers are linked to.
//
// Operators describe the cast of a session (name, aliases, role, personality
// and so on) in YAML roster files ([LoadRosterFile]). When a speaker is
// named, either by renaming a voice profile or by rebinding a segment, the
// pipeline looks the name up with [Store.FindByName] and stores the matched
// character id on the segment. The character's [Character.Profile] text is
// handed to the analysis prompt.
//
// All store operations are safe for concurrent use.
package entity

import (
	"fmt"
	"strings"
)

// Character is one member of the roster.
type Character struct {
	// ID is a unique identifier. A UUID is generated when empty.
	ID string `yaml:"id" json:"id"`

	// Name is the canonical display name speakers are renamed to.
	Name string `yaml:"name" json:"name"`

	// Aliases are alternative names that resolve to this character.
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`

	// Attributes holds free-form facts such as age, occupation and role.
	Attributes map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`

	Personality string `yaml:"personality,omitempty" json:"personality,omitempty"`
	Tone        string `yaml:"tone,omitempty" json:"tone,omitempty"`
	Background  string `yaml:"background,omitempty" json:"background,omitempty"`
	Weakness    string `yaml:"weakness,omitempty" json:"weakness,omitempty"`

	Habits       []string `yaml:"habits,omitempty" json:"habits,omitempty"`
	Catchphrases []string `yaml:"catchphrases,omitempty" json:"catchphrases,omitempty"`

	// Tags are searchable labels.
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Names returns the canonical name followed by the aliases.
func (c Character) Names() []string {
	return append([]string{c.Name}, c.Aliases...)
}

// Profile renders the character as plain text for an LLM prompt. Unknown
// fields are spelled out as "unknown" so the model does not invent them.
func (c Character) Profile() string {
	const unknown = "unknown"
	or := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return unknown
		}
		return s
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", c.Name)
	for _, key := range []string{"age", "occupation", "role"} {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(key[:1])+key[1:], or(c.Attributes[key]))
	}
	fmt.Fprintf(&b, "Personality: %s\n", or(c.Personality))
	fmt.Fprintf(&b, "Tone: %s\n", or(c.Tone))
	fmt.Fprintf(&b, "Background: %s\n", or(c.Background))
	fmt.Fprintf(&b, "Weakness: %s\n", or(c.Weakness))

	b.WriteString("Habits:\n")
	if len(c.Habits) == 0 {
		b.WriteString("- (none known)\n")
	}
	for _, h := range c.Habits {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	b.WriteString("Catchphrases:\n")
	if len(c.Catchphrases) == 0 {
		b.WriteString("- (none known)\n")
	}
	for _, p := range c.Catchphrases {
		fmt.Fprintf(&b, "- often says: %q\n", p)
	}
	return strings.TrimRight(b.String(), "\n")
}
