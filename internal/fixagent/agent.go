// Package fixagent turns a classified issue plus the file it lives in into a
// replacement file, a commit message, and an explanation. The primary
// backend is an LLM; a deterministic rule-based fallback covers the cases
// where no LLM is configured or its answer fails sanity checks.
package fixagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeguardhq/codeguard/internal/analyzer"
)

// CommitMarker prefixes every automated healing commit message.
const CommitMarker = "[AI-AGENT]"

// Length ratio bounds for an accepted LLM replacement, relative to the
// original file.
const (
	minFixRatio = 0.3
	maxFixRatio = 3.0
)

// Proposal is one proposed replacement of a file's full content.
type Proposal struct {
	Success       bool
	FixedCode     string
	CommitMessage string
	Explanation   string
}

// Proposer proposes a replacement for a file given one issue in it. The
// orchestrator does not know which implementation is active.
type Proposer interface {
	Propose(ctx context.Context, issue analyzer.Issue, fileContent string) (Proposal, error)
}

// Agent runs the configured LLM proposer and falls back to deterministic
// rules when the LLM is absent, errors, or produces an implausible answer.
type Agent struct {
	llm      Proposer
	fallback *RuleBased
}

// New builds an Agent. llm may be nil, in which case every fix is
// rule-based.
func New(llm Proposer) *Agent {
	return &Agent{llm: llm, fallback: NewRuleBased()}
}

// GenerateFix produces a fix for issue. It never returns an error; an
// unfixable issue yields Success=false. Commit messages always carry the
// marker prefix.
func (a *Agent) GenerateFix(ctx context.Context, issue analyzer.Issue, fileContent string) Proposal {
	if a.llm != nil {
		p, err := a.llm.Propose(ctx, issue, fileContent)
		switch {
		case err != nil:
			slog.Warn("llm fix failed, using rule-based fallback",
				"file", issue.File, "line", issue.Line, "error", err)
		case !p.Success:
			slog.Debug("llm declined to fix, using rule-based fallback",
				"file", issue.File, "line", issue.Line)
		case !plausibleLength(fileContent, p.FixedCode):
			slog.Warn("llm fix length out of bounds, using rule-based fallback",
				"file", issue.File, "line", issue.Line,
				"original", len(fileContent), "fixed", len(p.FixedCode))
		default:
			return withMarker(p)
		}
	}

	p, err := a.fallback.Propose(ctx, issue, fileContent)
	if err != nil || !p.Success {
		return Proposal{
			Success:       false,
			CommitMessage: fmt.Sprintf("%s Unable to fix %s issue in %s:%d", CommitMarker, issue.BugType, issue.File, issue.Line),
			Explanation:   "no applicable fix strategy",
		}
	}
	return withMarker(p)
}

// plausibleLength rejects replacements shorter than 30% or longer than 300%
// of the original.
func plausibleLength(original, fixed string) bool {
	if len(original) == 0 {
		return len(fixed) > 0
	}
	ratio := float64(len(fixed)) / float64(len(original))
	return ratio >= minFixRatio && ratio <= maxFixRatio
}

func withMarker(p Proposal) Proposal {
	msg := strings.TrimSpace(p.CommitMessage)
	if msg == "" {
		msg = "Apply automated fix"
	}
	if !strings.HasPrefix(msg, CommitMarker) {
		msg = CommitMarker + " " + msg
	}
	p.CommitMessage = msg
	return p
}
