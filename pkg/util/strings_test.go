package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"meeting.mp3":           "meeting.mp3",
		"../../etc/passwd":      "passwd",
		"..\\..\\win\\evil.wav": "evil.wav",
		"my talk (final).m4a":   "my_talk__final_.m4a",
		"...hidden...":          "hidden",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestHasAllowedExtension(t *testing.T) {
	allowed := []string{"wav", "mp3", "M4A"}
	assert.True(t, HasAllowedExtension("a.wav", allowed))
	assert.True(t, HasAllowedExtension("a.MP3", allowed))
	assert.True(t, HasAllowedExtension("a.m4a", allowed))
	assert.False(t, HasAllowedExtension("a.exe", allowed))
	assert.False(t, HasAllowedExtension("noext", allowed))
}

func TestStr2List(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Str2List(" a, b ,a,", ","))
	assert.Empty(t, Str2List("", ","))
}

func TestParseIntList(t *testing.T) {
	assert.Equal(t, []int{0, 1}, ParseIntList("0,1,x", ","))
}
