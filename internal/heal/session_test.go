package heal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/codeguardhq/codeguard/internal/ci"
)

func TestSessionAppliedFixes(t *testing.T) {
	s := NewSession("acme", "widget", "main", "T_L_AI_Fix", 1)
	s.Fixes = []*Fix{
		{Status: FixApplied},
		{Status: FixUnfixable},
		{Status: FixApplied},
		{Status: FixCommitFailed},
	}
	assert.Equal(t, 2, s.AppliedFixes())
}

func TestSessionSummary_ReportsInitialIssueCount(t *testing.T) {
	s := NewSession("acme", "widget", "main", "T_L_AI_Fix", 1)
	s.InitialIssueCount = 4
	// The working set shrinks as CI-derived issues replace analysis issues;
	// the summary still reports the original detection total.
	s.Issues = []analyzer.Issue{{File: "a.js"}}
	s.Fixes = []*Fix{{Status: FixApplied}}
	s.CIStatus = StatusPassed
	s.RetryCount = 2
	s.PRURL = "https://github.com/acme/widget/pull/9"

	res := s.Summary()
	assert.Equal(t, "acme/widget", res.Repo)
	assert.Equal(t, "T_L_AI_Fix", res.BranchCreated)
	assert.Equal(t, 4, res.TotalFailuresDetected)
	assert.Equal(t, 1, res.TotalFixesApplied)
	assert.Equal(t, StatusPassed, res.FinalCIStatus)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, "https://github.com/acme/widget/pull/9", res.PRURL)
	assert.GreaterOrEqual(t, res.ExecutionTimeMS, int64(0))
}

func TestRenderPRBody(t *testing.T) {
	s := NewSession("acme", "widget", "main", "T_L_AI_Fix", 1)
	s.InitialIssueCount = 2
	s.CIStatus = StatusPassed
	s.RetryCount = 1
	s.Fixes = []*Fix{
		{File: "b.js", Line: 3, BugType: "LOGIC", Status: FixApplied, CommitMessage: "[AI-AGENT] Fix eval"},
		{File: "a.js", Line: 1, BugType: "LINTING", Status: FixUnfixable, CommitMessage: "[AI-AGENT] Unable to fix"},
	}
	s.CITimeline = []TimelineRow{
		{Iteration: 1, Timestamp: time.Now(), Status: ci.StatusPassed, CommitSHA: "abc1234"},
	}

	body := renderPRBody(s)
	assert.Contains(t, body, "## Automated Repair Report")
	assert.Contains(t, body, "| 2 | 1 | 1 | PASSED |")
	assert.Contains(t, body, "**`a.js`**")
	assert.Contains(t, body, "**`b.js`**")
	assert.Contains(t, body, "✅ applied")
	assert.Contains(t, body, "⚠️ unfixable")
	assert.Contains(t, body, "abc1234")
	assert.Contains(t, body, "Opened automatically by CodeGuard.")

	// Files render sorted.
	assert.Less(t, strings.Index(body, "**`a.js`**"), strings.Index(body, "**`b.js`**"))
}
