package session_test

import (
	"testing"

	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateStrength(t *testing.T) {
	tests := []struct {
		name     string
		pin      string
		expected session.PinStrength
	}{
		{
			name:     "repeated digits are weak",
			pin:      "1111",
			expected: session.PinStrengthWeak,
		},
		{
			name:     "ascending sequence is weak",
			pin:      "1234",
			expected: session.PinStrengthWeak,
		},
		{
			name:     "descending sequence is weak",
			pin:      "4321",
			expected: session.PinStrengthWeak,
		},
		{
			name:     "denylisted code is weak",
			pin:      "6969",
			expected: session.PinStrengthWeak,
		},
		{
			name:     "six digit sequence is weak",
			pin:      "123456",
			expected: session.PinStrengthWeak,
		},
		{
			name:     "year-like code is medium",
			pin:      "1987",
			expected: session.PinStrengthMedium,
		},
		{
			name:     "repeated pair is medium",
			pin:      "2929",
			expected: session.PinStrengthMedium,
		},
		{
			name:     "two distinct digits is medium",
			pin:      "2112",
			expected: session.PinStrengthMedium,
		},
		{
			name:     "mixed digits are strong",
			pin:      "2693",
			expected: session.PinStrengthStrong,
		},
		{
			name:     "six mixed digits are strong",
			pin:      "283947",
			expected: session.PinStrengthStrong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := session.EvaluateStrength(tt.pin)
			assert.Equal(t, tt.expected, result.Strength)

			if tt.expected != session.PinStrengthStrong {
				assert.NotEmpty(t, result.Suggestions)
			}
		})
	}
}

func TestWeakResultsCarrySuggestions(t *testing.T) {
	result := session.EvaluateStrength("1234")
	assert.Equal(t, session.PinStrengthWeak, result.Strength)
	assert.NotEmpty(t, result.Suggestions)
}
