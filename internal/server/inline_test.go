package server

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeguardhq/codeguard/internal/config"
	"github.com/codeguardhq/codeguard/internal/detect"
)

func TestFallbackComment(t *testing.T) {
	found := []fileViolation{
		{File: "src/app.js", Violation: detect.Violation{RuleID: "rx-eval-001", Line: 3, Message: "eval() executes arbitrary code"}},
		{File: "src/db.js", Violation: detect.Violation{RuleID: "rx-sqli-001", Line: 9, Message: "String-built SQL query"}},
	}

	body := fallbackComment(found)
	assert.Contains(t, body, "found 2 issue(s)")
	assert.Contains(t, body, "`src/app.js:3`")
	assert.Contains(t, body, "rx-eval-001")
	assert.NotContains(t, body, "more.")
}

func TestFallbackComment_TruncatesLongLists(t *testing.T) {
	var found []fileViolation
	for i := 0; i < maxFallbackItems+5; i++ {
		found = append(found, fileViolation{
			File:      fmt.Sprintf("src/f%d.js", i),
			Violation: detect.Violation{RuleID: "rx-debug-001", Line: 1, Message: "console.log left in"},
		})
	}

	body := fallbackComment(found)
	assert.Contains(t, body, "and 5 more.")
	assert.Equal(t, maxFallbackItems, strings.Count(body, "- `"))
}

func TestTargetURL(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	assert.Empty(t, srv.targetURL(42), "no dashboard configured means no target url")

	srv, _ = newTestServer(t, func(cfg *config.Config) { cfg.Server.DashboardURL = "https://dash.example.com/" })
	assert.Equal(t, "https://dash.example.com/analysis/42", srv.targetURL(42))
}
