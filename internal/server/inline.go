package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeguardhq/codeguard/internal/detect"
	"github.com/codeguardhq/codeguard/internal/detect/grammar"
	"github.com/codeguardhq/codeguard/internal/detect/regexdetect"
	"github.com/codeguardhq/codeguard/internal/forge"
	"github.com/codeguardhq/codeguard/internal/store"
)

// statusContext identifies the inline check on commit statuses.
const statusContext = "CodeGuard Pro / Security Analysis"

// Bounded review output.
const (
	maxReviewComments  = 20
	maxFallbackItems   = 10
	successCommentBody = ":white_check_mark: **CodeGuard** found no issues in this pull request."
)

// fileViolation attributes one finding to a changed file.
type fileViolation struct {
	File      string
	Violation detect.Violation
}

// runInlineAnalysis performs one webhook-triggered analysis pass: status
// pending, scan changed files, persist findings, report via review or
// comment, and finalise the analysis record.
func (s *Server) runInlineAnalysis(ctx context.Context, analysisID, installationID int64, owner, name string, prNumber int, headSHA string) {
	fc := forge.NewClient(s.broker, owner, name, installationID)
	repoSlug := owner + "/" + name

	finalize := func(status string) {
		if err := s.store.SetAnalysisStatus(ctx, analysisID, status); err != nil {
			slog.Error("analysis status update failed", "analysis", analysisID, "error", err)
		}
	}

	if err := fc.CreateCommitStatus(ctx, headSHA, "pending", "Analyzing changed files", statusContext, s.targetURL(analysisID)); err != nil {
		slog.Warn("pending status failed", "repo", repoSlug, "error", err)
	}

	found, err := s.scanChangedFiles(ctx, fc, prNumber, headSHA)
	if err != nil {
		slog.Error("inline analysis failed", "repo", repoSlug, "pr", prNumber, "error", err)
		_ = fc.CreateCommitStatus(ctx, headSHA, "error", "Analysis failed", statusContext, s.targetURL(analysisID))
		finalize(store.AnalysisFailure)
		return
	}

	if err := s.persistViolations(ctx, analysisID, found); err != nil {
		slog.Error("persisting violations failed", "analysis", analysisID, "error", err)
	}

	if len(found) == 0 {
		_ = fc.CreateCommitStatus(ctx, headSHA, "success", "No issues found", statusContext, s.targetURL(analysisID))
		if err := fc.CreateIssueComment(ctx, prNumber, successCommentBody); err != nil {
			slog.Warn("success comment failed", "repo", repoSlug, "error", err)
		}
	} else {
		desc := fmt.Sprintf("%d issue(s) found", len(found))
		_ = fc.CreateCommitStatus(ctx, headSHA, "failure", desc, statusContext, s.targetURL(analysisID))
		s.reportViolations(ctx, fc, prNumber, headSHA, found)
	}

	finalize(store.AnalysisSuccess)

	if err := s.notify.AnalysisCompleted(ctx, repoSlug, prNumber, len(found), store.AnalysisSuccess); err != nil {
		slog.Warn("slack notification failed", "repo", repoSlug, "error", err)
	}
	slog.Info("inline analysis complete", "repo", repoSlug, "pr", prNumber, "violations", len(found))
}

// scanChangedFiles runs the regex detector over every changed, non-removed
// file whose extension maps to a supported language.
func (s *Server) scanChangedFiles(ctx context.Context, fc *forge.Client, prNumber int, headSHA string) ([]fileViolation, error) {
	files, err := fc.ListPRFiles(ctx, prNumber)
	if err != nil {
		return nil, fmt.Errorf("listing PR files: %w", err)
	}

	var found []fileViolation
	for _, f := range files {
		if f.Status == "removed" {
			continue
		}
		if _, supported := grammar.FromFilename(f.Filename); !supported {
			continue
		}

		content, err := fc.GetFileContent(ctx, f.Filename, headSHA)
		if err != nil {
			slog.Warn("could not fetch changed file", "file", f.Filename, "error", err)
			continue
		}
		for _, v := range regexdetect.Scan(content.Content) {
			found = append(found, fileViolation{File: f.Filename, Violation: v})
		}
	}
	return found, nil
}

func (s *Server) persistViolations(ctx context.Context, analysisID int64, found []fileViolation) error {
	records := make([]store.Violation, 0, len(found))
	for _, fv := range found {
		records = append(records, store.Violation{
			RuleID:  fv.Violation.RuleID,
			File:    fv.File,
			Line:    fv.Violation.Line,
			Message: fv.Violation.Message,
		})
	}
	return s.store.InsertViolations(ctx, analysisID, records)
}

// reportViolations posts a review with up to maxReviewComments inline
// comments, falling back to a summarising issue comment when the review API
// rejects the request.
func (s *Server) reportViolations(ctx context.Context, fc *forge.Client, prNumber int, headSHA string, found []fileViolation) {
	comments := make([]forge.ReviewComment, 0, maxReviewComments)
	for _, fv := range found {
		if len(comments) == maxReviewComments {
			break
		}
		comments = append(comments, forge.ReviewComment{
			Path: fv.File,
			Line: fv.Violation.Line,
			Body: fmt.Sprintf("**%s** (%s/%s): %s", fv.Violation.RuleID, fv.Violation.Category, fv.Violation.Severity, fv.Violation.Message),
		})
	}

	if err := fc.CreateReview(ctx, prNumber, headSHA, comments); err != nil {
		slog.Warn("review creation failed, falling back to issue comment", "pr", prNumber, "error", err)
		if cerr := fc.CreateIssueComment(ctx, prNumber, fallbackComment(found)); cerr != nil {
			slog.Error("fallback comment failed", "pr", prNumber, "error", cerr)
		}
	}
}

// fallbackComment summarises the first maxFallbackItems findings.
func fallbackComment(found []fileViolation) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: **CodeGuard** found %d issue(s) in this pull request:\n\n", len(found))
	for i, fv := range found {
		if i == maxFallbackItems {
			fmt.Fprintf(&b, "\n…and %d more.\n", len(found)-maxFallbackItems)
			break
		}
		fmt.Fprintf(&b, "- `%s:%d` — %s (%s)\n", fv.File, fv.Violation.Line, fv.Violation.Message, fv.Violation.RuleID)
	}
	return b.String()
}

func (s *Server) targetURL(analysisID int64) string {
	base := s.cfg.Server.DashboardURL
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + fmt.Sprintf("/analysis/%d", analysisID)
}
