// Package identity generates device identities: a UUID-v4 id assigned once
// at registration and a random display name for users who do not pick one.
package identity

import (
	"math/rand"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// MaxNameLength is the display-name cap, in runes, enforced everywhere a
// name is set.
const MaxNameLength = 20

// NewID returns a fresh UUID-v4 user id.
func NewID() string {
	return uuid.NewString()
}

// NewSecret returns a random device secret the client persists alongside
// its id and presents on subsequent logins.
func NewSecret() string {
	return uuid.NewString()
}

// GenerateUsername builds an adjective+noun name with a two-digit suffix,
// truncated to MaxNameLength.
func GenerateUsername() string {
	adjective := strings.ToLower(gofakeit.AdjectiveDescriptive())
	noun := strings.ToLower(gofakeit.NounConcrete())
	digits := rand.Intn(90) + 10

	// Leave room for the two-digit suffix.
	name := TruncateRunes(adjective+noun, MaxNameLength-2)
	return name + itoa2(digits)
}

// ClampName trims whitespace and truncates to MaxNameLength.
func ClampName(name string) string {
	return TruncateRunes(strings.TrimSpace(name), MaxNameLength)
}

// TruncateRunes cuts s to at most max runes. Cutting by runes rather than
// bytes keeps a truncated multi-byte name valid UTF-8.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func itoa2(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}
