package memory

import (
	"strconv"
	"strings"
)

// Prefixes of minted profile identities.
const (
	ProfileIDPrefix   = "speaker_"
	ProfileNamePrefix = "Unknown Speaker "
)

// ProfileID formats the identifier of the n-th voice profile.
func ProfileID(n int64) string { return ProfileIDPrefix + strconv.FormatInt(n, 10) }

// ProfileName formats the placeholder display name of the n-th voice
// profile.
func ProfileName(n int64) string { return ProfileNamePrefix + strconv.FormatInt(n, 10) }

// IsProfileID reports whether id was minted by a profile store.
func IsProfileID(id string) bool { return strings.HasPrefix(id, ProfileIDPrefix) }
