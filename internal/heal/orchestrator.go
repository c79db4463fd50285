package heal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/codeguardhq/codeguard/internal/branch"
	"github.com/codeguardhq/codeguard/internal/ci"
	"github.com/codeguardhq/codeguard/internal/fixagent"
	"github.com/codeguardhq/codeguard/internal/forge"
)

// state is a node of the healing state machine. The only conditional path
// is out of stateMonitorCI.
type state int

const (
	stateAnalyze state = iota
	stateGenerateFixes
	stateApplyCommit
	stateOpenPR
	stateMonitorCI
	stateUpdatePREnd
	stateDone
)

func (s state) String() string {
	switch s {
	case stateAnalyze:
		return "analyze"
	case stateGenerateFixes:
		return "generate_fixes"
	case stateApplyCommit:
		return "apply_commit"
	case stateOpenPR:
		return "open_pr"
	case stateMonitorCI:
		return "monitor_ci"
	case stateUpdatePREnd:
		return "update_pr"
	default:
		return "done"
	}
}

// PRForge is the subset of forge operations the orchestrator uses for pull
// requests. *forge.Client satisfies it.
type PRForge interface {
	CreatePR(ctx context.Context, head, base, title, body string) (*forge.PullRequest, error)
	UpdatePRBody(ctx context.Context, number int, body string) error
}

// EmitFunc receives progress events. Must be safe to call from the
// orchestrator goroutine only.
type EmitFunc func(Event)

// Orchestrator runs the fix/commit/PR/CI loop for one session.
type Orchestrator struct {
	session    *Session
	branches   *branch.Manager
	prs        PRForge
	ciAgent    *ci.Agent
	fixer      *fixagent.Agent
	emit       EmitFunc
	maxRetries int
	retryPause time.Duration
	now        func() time.Time
}

// NewOrchestrator wires the loop's collaborators around a prepared session.
func NewOrchestrator(session *Session, branches *branch.Manager, prs PRForge, ciAgent *ci.Agent, fixer *fixagent.Agent, maxRetries int, retryPause time.Duration, emit EmitFunc) *Orchestrator {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Orchestrator{
		session:    session,
		branches:   branches,
		prs:        prs,
		ciAgent:    ciAgent,
		fixer:      fixer,
		emit:       emit,
		maxRetries: maxRetries,
		retryPause: retryPause,
		now:        time.Now,
	}
}

// Run executes the state machine to completion and returns the final
// summary. Cancellation marks the session FAILED at the next transition.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	// retryIssues is the working set for the next GENERATE_FIXES pass; nil
	// means "use the session's full issue list" (first pass).
	var retryIssues []analyzer.Issue

	current := stateAnalyze
	for current != stateDone {
		if ctx.Err() != nil {
			o.session.CIStatus = StatusFailed
			o.session.Log("cancelled: " + ctx.Err().Error())
			o.progress("error", "healing cancelled")
			break
		}

		switch current {
		case stateAnalyze:
			current = o.analyze()
		case stateGenerateFixes:
			current = o.generateFixes(ctx, retryIssues)
			retryIssues = nil
		case stateApplyCommit:
			current = o.applyCommit(ctx)
		case stateOpenPR:
			current = o.openPR(ctx)
		case stateMonitorCI:
			var next state
			next, retryIssues = o.monitorCI(ctx)
			current = next
		case stateUpdatePREnd:
			current = o.updatePREnd(ctx)
		}
	}
	return o.session.Summary()
}

func (o *Orchestrator) analyze() state {
	s := o.session
	o.progress("analyze", fmt.Sprintf("%d issues to address", len(s.Issues)))
	if len(s.Issues) == 0 {
		s.CIStatus = StatusPassed
		s.Log("no issues found, nothing to heal")
		return stateUpdatePREnd
	}
	return stateGenerateFixes
}

// generateFixes groups the working issue set by file and applies fixes
// sequentially to an evolving buffer per file. The final buffer is stashed
// on the last applied fix as its pending commit.
func (o *Orchestrator) generateFixes(ctx context.Context, retryIssues []analyzer.Issue) state {
	s := o.session
	working := s.Issues
	if retryIssues != nil {
		working = retryIssues
	}
	o.progress("generate_fixes", fmt.Sprintf("generating fixes for %d issues", len(working)))

	byFile := make(map[string][]analyzer.Issue)
	for _, issue := range working {
		byFile[issue.File] = append(byFile[issue.File], issue)
	}
	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		issues := byFile[file]
		content, err := o.branches.FileContent(ctx, file, s.AIBranch)
		if err != nil {
			reason := "file not found on branch"
			if !forge.IsNotFound(err) {
				reason = err.Error()
			}
			for _, issue := range issues {
				s.Fixes = append(s.Fixes, &Fix{
					File: file, Line: issue.Line, BugType: issue.BugType,
					Status: FixSkipped, Explanation: reason,
				})
			}
			s.Log(fmt.Sprintf("skipping %s: %s", file, reason))
			continue
		}

		buffer := string(content)
		var lastApplied *Fix
		for _, issue := range issues {
			proposal := o.fixer.GenerateFix(ctx, issue, buffer)
			fix := &Fix{
				File:          file,
				Line:          issue.Line,
				BugType:       issue.BugType,
				CommitMessage: proposal.CommitMessage,
				Explanation:   proposal.Explanation,
			}
			if proposal.Success {
				fix.Status = FixApplied
				buffer = proposal.FixedCode
				lastApplied = fix
			} else {
				fix.Status = FixUnfixable
			}
			s.Fixes = append(s.Fixes, fix)
		}
		if lastApplied != nil {
			lastApplied.pendingCommit = buffer
		}
	}
	return stateApplyCommit
}

// applyCommit pushes every pending buffer to the healing branch. A commit
// failure downgrades every applied fix folded into that buffer, since none
// of them landed, but does not stop the loop.
func (o *Orchestrator) applyCommit(ctx context.Context) state {
	s := o.session
	for _, fix := range s.Fixes {
		if fix.pendingCommit == "" {
			continue
		}
		sha, err := o.branches.CommitFile(ctx, s.AIBranch, fix.File, []byte(fix.pendingCommit), fix.CommitMessage)
		fix.pendingCommit = ""
		if err != nil {
			slog.Error("commit failed", "file", fix.File, "error", err)
			for _, f := range s.Fixes {
				if f.File == fix.File && f.Status == FixApplied {
					f.Status = FixCommitFailed
				}
			}
			s.Log(fmt.Sprintf("commit failed for %s: %v", fix.File, err))
			continue
		}
		s.Log(fmt.Sprintf("committed %s at %s", fix.File, shortSHA(sha)))
		o.progress("apply_commit", fmt.Sprintf("committed %s", fix.File))
	}
	return stateOpenPR
}

// openPR opens the healing PR the first time any fix lands. With nothing
// applied the session ends as SKIPPED and no PR is created.
func (o *Orchestrator) openPR(ctx context.Context) state {
	s := o.session
	if s.AppliedFixes() == 0 {
		s.CIStatus = StatusSkipped
		s.Log("no fixes applied, skipping PR")
		o.progress("open_pr", "no fixes applied, skipping PR")
		return stateUpdatePREnd
	}
	if s.PRNumber != 0 {
		return stateMonitorCI
	}

	title := fmt.Sprintf("%s Automated fixes for %s", fixagent.CommitMarker, s.RepoName)
	pr, err := o.prs.CreatePR(ctx, s.AIBranch, s.DefaultBranch, title, renderPRBody(s))
	if err != nil {
		slog.Error("opening PR failed", "repo", s.RepoOwner+"/"+s.RepoName, "error", err)
		s.CIStatus = StatusFailed
		s.Log("opening PR failed: " + err.Error())
		return stateUpdatePREnd
	}
	s.PRNumber = pr.Number
	s.PRURL = pr.URL
	s.Log(fmt.Sprintf("opened PR #%d", pr.Number))
	o.progress("open_pr", fmt.Sprintf("opened PR #%d", pr.Number))
	return stateMonitorCI
}

// monitorCI waits for checks on the branch tip and, on failure, converts the
// attributable failure logs into the next working issue set.
func (o *Orchestrator) monitorCI(ctx context.Context) (state, []analyzer.Issue) {
	s := o.session
	s.RetryCount++

	hasCI, err := o.hasCI(ctx)
	if err != nil {
		slog.Warn("could not determine CI presence", "error", err)
	}
	if !hasCI {
		s.CIStatus = StatusNoCI
		s.CITimeline = append(s.CITimeline, TimelineRow{
			Iteration: s.RetryCount,
			Timestamp: o.now(),
			Status:    ci.StatusNoCI,
		})
		s.Log("no CI configured on repository")
		o.progress("monitor_ci", "no CI configured")
		return stateUpdatePREnd, nil
	}

	sha, err := o.branches.LatestCommitSHA(ctx, s.AIBranch)
	if err != nil {
		s.CIStatus = StatusFailed
		s.Log("resolving branch tip failed: " + err.Error())
		return stateUpdatePREnd, nil
	}

	o.progress("monitor_ci", fmt.Sprintf("waiting for CI on %s (attempt %d)", shortSHA(sha), s.RetryCount))
	res, err := o.ciAgent.WaitForChecks(ctx, sha)
	if err != nil {
		s.CIStatus = StatusFailed
		s.Log("CI monitoring failed: " + err.Error())
		return stateUpdatePREnd, nil
	}

	s.CITimeline = append(s.CITimeline, TimelineRow{
		Iteration: s.RetryCount,
		Timestamp: o.now(),
		Status:    res.Status,
		Checks:    res.Checks,
		CommitSHA: shortSHA(sha),
	})
	s.CIStatus = string(res.Status)

	if res.Status != ci.StatusFailed {
		return stateUpdatePREnd, nil
	}

	// CI-derived issues REPLACE the working set; without file-attributed
	// logs the prior set is retried as-is.
	next := issuesFromFailureLogs(res.FailureLogs)
	if len(next) > 0 {
		s.Issues = next
	} else {
		next = s.Issues
	}

	if s.RetryCount < o.maxRetries {
		s.Log(fmt.Sprintf("CI failed, retrying (%d/%d)", s.RetryCount, o.maxRetries))
		o.pause(ctx)
		return stateGenerateFixes, next
	}
	s.Log("CI failed and retry budget exhausted")
	return stateUpdatePREnd, nil
}

func (o *Orchestrator) updatePREnd(ctx context.Context) state {
	s := o.session
	if s.PRNumber != 0 {
		if err := o.prs.UpdatePRBody(ctx, s.PRNumber, renderPRBody(s)); err != nil {
			slog.Warn("updating PR body failed", "pr", s.PRNumber, "error", err)
			s.Log("updating PR body failed: " + err.Error())
		}
	}
	o.progress("complete", fmt.Sprintf("healing finished: %s", s.CIStatus))
	return stateDone
}

func (o *Orchestrator) hasCI(ctx context.Context) (bool, error) {
	sha, err := o.branches.LatestCommitSHA(ctx, o.session.AIBranch)
	if err != nil {
		return false, err
	}
	return o.ciAgent.HasCIConfigured(ctx, sha)
}

// issuesFromFailureLogs classifies file-attributed CI failures into issues.
func issuesFromFailureLogs(logs []ci.FailureLog) []analyzer.Issue {
	var out []analyzer.Issue
	for _, l := range logs {
		if l.File == "" {
			continue
		}
		out = append(out, analyzer.Issue{
			File:        l.File,
			Line:        l.Line,
			BugType:     analyzer.ClassifyMessage(l.Message),
			Description: l.Message,
			Severity:    "CRITICAL",
			Source:      "ci",
		})
	}
	return out
}

func (o *Orchestrator) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(o.retryPause):
	}
}

func (o *Orchestrator) progress(stage, message string) {
	o.session.Log(message)
	o.emit(Event{Stage: stage, Timestamp: o.now(), Message: message})
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
