// Package ci polls a commit's check runs and legacy statuses with a bounded
// wait and condenses failures into attributable logs for the fix loop.
package ci

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeguardhq/codeguard/internal/forge"
)

// Forge is the subset of forge operations CI monitoring needs.
// *forge.Client satisfies it.
type Forge interface {
	ListChecksForRef(ctx context.Context, ref string) ([]forge.CheckRun, error)
	ListAnnotations(ctx context.Context, checkID int64) ([]forge.CheckAnnotation, error)
	GetCombinedStatus(ctx context.Context, ref string) (*forge.CombinedStatus, error)
}

// Status is the condensed outcome of one monitoring pass.
type Status string

const (
	StatusPassed Status = "PASSED"
	StatusFailed Status = "FAILED"
	StatusNoCI   Status = "NO_CI"
)

// Check summarises one check run for the PR timeline.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

// FailureLog is one attributable failure. File is empty and Line zero when
// the check gave no location.
type FailureLog struct {
	Source  string `json:"source"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// Result is the outcome of WaitForChecks. FailureLogs is empty iff Status is
// PASSED.
type Result struct {
	Status      Status       `json:"status"`
	Checks      []Check      `json:"checks"`
	FailureLogs []FailureLog `json:"failure_logs"`
}

// Agent polls the forge until checks settle or the wait bound elapses.
type Agent struct {
	forge Forge
	wait  time.Duration
	poll  time.Duration
}

// NewAgent builds an Agent with the given wait bound and poll interval.
func NewAgent(f Forge, wait, poll time.Duration) *Agent {
	return &Agent{forge: f, wait: wait, poll: poll}
}

// HasCIConfigured reports whether any check runs exist for the ref. Used to
// skip monitoring on repos without CI.
func (a *Agent) HasCIConfigured(ctx context.Context, ref string) (bool, error) {
	checks, err := a.forge.ListChecksForRef(ctx, ref)
	if err != nil {
		return false, err
	}
	return len(checks) > 0, nil
}

// WaitForChecks polls sha until both check runs and combined status have
// settled, or until the wait bound elapses. On timeout it returns FAILED
// with a single timeout entry.
func (a *Agent) WaitForChecks(ctx context.Context, sha string) (Result, error) {
	deadline := time.Now().Add(a.wait)
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	for {
		checks, statuses, settled, err := a.pollOnce(ctx, sha)
		if err != nil {
			return Result{}, err
		}
		if settled {
			return a.summarise(ctx, sha, checks, statuses)
		}
		if time.Now().After(deadline) {
			slog.Warn("ci wait timed out", "sha", short(sha), "waited", a.wait)
			return Result{
				Status: StatusFailed,
				Checks: condense(checks),
				FailureLogs: []FailureLog{{
					Source:  "timeout",
					Message: fmt.Sprintf("CI did not settle within %s", a.wait),
				}},
			}, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Agent) pollOnce(ctx context.Context, sha string) ([]forge.CheckRun, *forge.CombinedStatus, bool, error) {
	checks, err := a.forge.ListChecksForRef(ctx, sha)
	if err != nil {
		return nil, nil, false, fmt.Errorf("listing checks for %s: %w", short(sha), err)
	}
	combined, err := a.forge.GetCombinedStatus(ctx, sha)
	if err != nil {
		return nil, nil, false, fmt.Errorf("reading combined status for %s: %w", short(sha), err)
	}

	settled := len(checks) > 0 && len(combined.Statuses) > 0
	for _, c := range checks {
		if c.Status == "queued" || c.Status == "in_progress" {
			settled = false
		}
	}
	for _, s := range combined.Statuses {
		if s.State == "pending" {
			settled = false
		}
	}
	return checks, combined, settled, nil
}

// summarise decides PASSED/FAILED and assembles failure logs from
// annotations, check output summaries, and failed status contexts.
func (a *Agent) summarise(ctx context.Context, sha string, checks []forge.CheckRun, combined *forge.CombinedStatus) (Result, error) {
	res := Result{Status: StatusPassed, Checks: condense(checks)}

	for _, c := range checks {
		if !failedConclusion(c.Conclusion) {
			continue
		}
		res.Status = StatusFailed
		res.FailureLogs = append(res.FailureLogs, a.checkFailureLogs(ctx, c)...)
	}
	for _, s := range combined.Statuses {
		if s.State != "failure" && s.State != "error" {
			continue
		}
		res.Status = StatusFailed
		res.FailureLogs = append(res.FailureLogs, FailureLog{
			Source:  s.Context,
			Message: s.Description,
			Level:   s.State,
		})
	}
	return res, nil
}

// checkFailureLogs prefers annotations; falls back to the output summary.
func (a *Agent) checkFailureLogs(ctx context.Context, c forge.CheckRun) []FailureLog {
	annotations, err := a.forge.ListAnnotations(ctx, c.ID)
	if err != nil {
		slog.Warn("could not fetch check annotations", "check", c.Name, "error", err)
	}
	if len(annotations) == 0 {
		msg := c.Summary
		if msg == "" {
			msg = fmt.Sprintf("check %q concluded %s", c.Name, c.Conclusion)
		}
		return []FailureLog{{Source: c.Name, Message: msg, Level: "failure"}}
	}

	logs := make([]FailureLog, 0, len(annotations))
	for _, ann := range annotations {
		logs = append(logs, FailureLog{
			Source:  c.Name,
			File:    ann.Path,
			Line:    ann.StartLine,
			Message: ann.Message,
			Level:   ann.Level,
		})
	}
	return logs
}

func failedConclusion(conclusion string) bool {
	switch conclusion {
	case "failure", "timed_out", "cancelled", "action_required":
		return true
	}
	return false
}

func condense(checks []forge.CheckRun) []Check {
	out := make([]Check, 0, len(checks))
	for _, c := range checks {
		status := c.Status
		if c.Conclusion != "" {
			status = c.Conclusion
		}
		out = append(out, Check{Name: c.Name, Status: status, URL: c.URL})
	}
	return out
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
