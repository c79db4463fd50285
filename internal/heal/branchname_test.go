package heal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Team Rocket", "TEAM_ROCKET"},
		{"alice o'brien", "ALICE_OBRIEN"},
		{"  spaced   out  ", "SPACED_OUT"},
		{"déjà-vu crew", "DJVU_CREW"},
		{"42nd Street", "42ND_STREET"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), "Sanitize(%q)", tt.in)
	}
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "PLATFORM_ALICE_AI_Fix", BranchName("Platform", "Alice"))
	assert.Equal(t, "TEAM_ROCKET_J_DOE_AI_Fix", BranchName("team rocket", "j. doe"))

	// Deterministic: same inputs, same name.
	assert.Equal(t, BranchName("A B", "c"), BranchName("A B", "c"))
}
