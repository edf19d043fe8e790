package identity

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_IsUUID(t *testing.T) {
	id := NewID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}

func TestGenerateUsername_WithinCap(t *testing.T) {
	for i := 0; i < 100; i++ {
		name := GenerateUsername()
		assert.NotEmpty(t, name)
		assert.LessOrEqual(t, len(name), MaxNameLength)
	}
}

func TestGenerateUsername_EndsWithDigits(t *testing.T) {
	name := GenerateUsername()
	require.GreaterOrEqual(t, len(name), 2)
	suffix := name[len(name)-2:]
	assert.Regexp(t, `^\d\d$`, suffix)
}

func TestClampName(t *testing.T) {
	assert.Equal(t, "bob", ClampName("  bob  "))
	assert.Equal(t, "12345678901234567890", ClampName("123456789012345678901234"))
	assert.Equal(t, "", ClampName("   "))
}

func TestClampName_CountsRunesNotBytes(t *testing.T) {
	// Seven CJK runes are 21 bytes; the cap is 20 runes, so the name
	// must come through untouched rather than cut mid-rune.
	name := strings.Repeat("世", 7)
	assert.Equal(t, name, ClampName(name))
}

func TestClampName_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("世", MaxNameLength+5)
	got := ClampName(long)
	assert.Equal(t, MaxNameLength, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("世", MaxNameLength), got)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abcdef", 3))
	assert.Equal(t, "abc", TruncateRunes("abc", 5))
	assert.Equal(t, "", TruncateRunes("abc", 0))
	assert.Equal(t, "héllo", TruncateRunes("héllo!", 5))
}
