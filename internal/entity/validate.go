package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports every problem with c at once. A character needs a name,
// and each alias must be non-blank and distinct from the name and from the
// other aliases, ignoring case.
func Validate(c Character) error {
	var errs []error
	name := strings.TrimSpace(c.Name)
	if name == "" {
		errs = append(errs, errors.New("entity: name is required"))
	}

	seen := map[string]int{strings.ToLower(name): -1}
	for i, alias := range c.Aliases {
		key := strings.ToLower(strings.TrimSpace(alias))
		if key == "" {
			errs = append(errs, fmt.Errorf("entity: alias %d is blank", i))
			continue
		}
		prev, dup := seen[key]
		switch {
		case dup && prev < 0:
			errs = append(errs, fmt.Errorf("entity: alias %q is the name", alias))
		case dup:
			errs = append(errs, fmt.Errorf("entity: alias %q repeats alias %d", alias, prev))
		default:
			seen[key] = i
		}
	}
	return errors.Join(errs...)
}
