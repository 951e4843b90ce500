package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "short", TruncateUTF8("short", 10))
	assert.Equal(t, "", TruncateUTF8("abc", 0))
	assert.Equal(t, "ab", TruncateUTF8("abc", 2))

	// "é" is two bytes; a cut landing inside it backs off to the rune start.
	s := strings.Repeat("a", 5) + "ééé"
	got := TruncateUTF8(s, 6)
	assert.Equal(t, "aaaaa", got)
	assert.True(t, utf8.ValidString(got))

	got = TruncateUTF8(s, 7)
	assert.Equal(t, "aaaaaé", got)

	for n := 0; n <= len(s); n++ {
		out := TruncateUTF8("日本語テキスト"+s, n)
		assert.True(t, utf8.ValidString(out), "n=%d", n)
		assert.LessOrEqual(t, len(out), n)
	}
}
