package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+54 11 1234-5678":  "+541112345678",
		"(011) 4123.4567":   "01141234567",
		"  +5491112345678 ": "+5491112345678",
		"5491112345678":     "5491112345678",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePhone(in), "input %q", in)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusProcessing))
}
