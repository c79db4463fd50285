package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPOSIX(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`C:\work\repo`, "/c/work/repo"},
		{`D:/data/repo`, "/d/data/repo"},
		{`c:\lower\case`, "/c/lower/case"},
		{"/already/posix", "/already/posix"},
		{"relative/path", "relative/path"},
		{`mixed\separators`, "mixed/separators"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToPOSIX(tt.in), "ToPOSIX(%q)", tt.in)
	}
}
