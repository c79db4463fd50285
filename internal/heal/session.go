// Package heal drives the autonomous repair loop: clone, test, analyze,
// then a bounded fix/commit/PR/CI cycle, streaming progress to the caller.
package heal

import (
	"time"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/codeguardhq/codeguard/internal/ci"
	"github.com/codeguardhq/codeguard/internal/detect"
)

// Final CI status values for a heal session.
const (
	StatusPending = "PENDING"
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
	StatusNoCI    = "NO_CI"
	StatusSkipped = "SKIPPED"
)

// Fix statuses.
const (
	FixApplied      = "applied"
	FixUnfixable    = "unfixable"
	FixSkipped      = "skipped"
	FixError        = "error"
	FixCommitFailed = "commit_failed"
)

// Fix records one attempted repair. pendingCommit holds the full replacement
// file content until APPLY_COMMIT consumes it.
type Fix struct {
	File          string         `json:"file"`
	Line          int            `json:"line"`
	BugType       detect.BugKind `json:"bug_type"`
	Status        string         `json:"status"`
	CommitMessage string         `json:"commit_message"`
	Explanation   string         `json:"explanation,omitempty"`

	pendingCommit string
}

// TimelineRow is one CI monitoring attempt.
type TimelineRow struct {
	Iteration int        `json:"iteration"`
	Timestamp time.Time  `json:"ts"`
	Status    ci.Status  `json:"status"`
	Checks    []ci.Check `json:"checks"`
	CommitSHA string     `json:"commit_sha"`
}

// Event is one progress message streamed to the caller.
type Event struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	Results   *Result   `json:"results,omitempty"`
}

// Session is the in-memory state of one heal run. The orchestrator is the
// single writer; logs and the CI timeline are append-only.
type Session struct {
	RepoOwner      string
	RepoName       string
	DefaultBranch  string
	AIBranch       string
	InstallationID int64

	// Issues is the working set; MONITOR_CI may replace it with CI-derived
	// issues on retry. InitialIssueCount preserves the analysis total.
	Issues            []analyzer.Issue
	InitialIssueCount int

	Fixes      []*Fix
	RetryCount int
	CIStatus   string
	CITimeline []TimelineRow
	PRNumber   int
	PRURL      string
	Logs       []string
	StartTS    time.Time
}

// NewSession initialises a session in PENDING state.
func NewSession(owner, name, defaultBranch, aiBranch string, installationID int64) *Session {
	return &Session{
		RepoOwner:      owner,
		RepoName:       name,
		DefaultBranch:  defaultBranch,
		AIBranch:       aiBranch,
		InstallationID: installationID,
		CIStatus:       StatusPending,
		StartTS:        time.Now(),
	}
}

// AppliedFixes counts fixes that were committed successfully.
func (s *Session) AppliedFixes() int {
	n := 0
	for _, f := range s.Fixes {
		if f.Status == FixApplied {
			n++
		}
	}
	return n
}

// Log appends a line to the session log.
func (s *Session) Log(line string) {
	s.Logs = append(s.Logs, line)
}

// Result is the final summary emitted over SSE and stored for polling.
type Result struct {
	Repo                  string           `json:"repo"`
	BranchCreated         string           `json:"branch_created"`
	TotalFailuresDetected int              `json:"total_failures_detected"`
	TotalFixesApplied     int              `json:"total_fixes_applied"`
	FinalCIStatus         string           `json:"final_ci_status"`
	RetryCount            int              `json:"retry_count"`
	ExecutionTimeMS       int64            `json:"execution_time_ms"`
	PRURL                 string           `json:"pr_url,omitempty"`
	Issues                []analyzer.Issue `json:"issues"`
	Fixes                 []*Fix           `json:"fixes"`
	CITimeline            []TimelineRow    `json:"ci_timeline"`
}

// Summary condenses the session into its final Result.
func (s *Session) Summary() *Result {
	return &Result{
		Repo:                  s.RepoOwner + "/" + s.RepoName,
		BranchCreated:         s.AIBranch,
		TotalFailuresDetected: s.InitialIssueCount,
		TotalFixesApplied:     s.AppliedFixes(),
		FinalCIStatus:         s.CIStatus,
		RetryCount:            s.RetryCount,
		ExecutionTimeMS:       time.Since(s.StartTS).Milliseconds(),
		PRURL:                 s.PRURL,
		Issues:                s.Issues,
		Fixes:                 s.Fixes,
		CITimeline:            s.CITimeline,
	}
}
