package selfanalysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePassword(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"mykola", "mykola"},
		{"  MYKOLA  ", "mykola"},
		{`"mykola"`, "mykola"},
		{"'Mykola'", "mykola"},
		{`"mykola`, `"mykola`}, // unpaired quote is kept
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePassword(tt.input))
	}
}

func TestVerifyPassword(t *testing.T) {
	assert.True(t, VerifyPassword("mykola", "mykola"))
	assert.True(t, VerifyPassword("  Mykola ", "mykola"))
	assert.True(t, VerifyPassword(`"MYKOLA"`, "mykola"))
	assert.False(t, VerifyPassword("wrong", "mykola"))
	assert.False(t, VerifyPassword("", "mykola"))
	// An empty configured secret never verifies.
	assert.False(t, VerifyPassword("anything", ""))
}

func TestRedactAttemptNeverContainsValue(t *testing.T) {
	redacted := RedactAttempt("supersecret")
	assert.NotContains(t, redacted, "supersecret")
	assert.Contains(t, redacted, "len=11")
}
