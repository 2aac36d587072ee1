package utils

import "testing"

func TestIsValidDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid simple name", "agent1", true},
		{"valid with dashes", "SGT-Green-001", true},
		{"empty string", "", false},
		{"whitespace only", "   ", false},
		{"max length (64 chars)", repeat("a", 64), true},
		{"too long (65 chars)", repeat("a", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidDisplayName(tt.input)
			if result != tt.expected {
				t.Errorf("IsValidDisplayName(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
