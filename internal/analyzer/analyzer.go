// Package analyzer walks a working tree, runs both detection engines over
// each source file, and classifies every finding into a typed Issue the
// healing loop can act on.
package analyzer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeguardhq/codeguard/internal/detect"
	"github.com/codeguardhq/codeguard/internal/detect/astengine"
	"github.com/codeguardhq/codeguard/internal/detect/grammar"
	"github.com/codeguardhq/codeguard/internal/detect/regexdetect"
	"github.com/codeguardhq/codeguard/internal/testrun"
)

const (
	maxWalkDepth = 10
	maxFileBytes = 1 << 20
)

// scanCategories is the rule subset a repository scan evaluates.
var scanCategories = []string{"security", "best-practice", "style", "naming", "performance"}

var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".tox":         true,
}

// sourceExts lists extensions worth scanning beyond the grammar-supported
// set; these fall through to the regex detector.
var sourceExts = map[string]bool{
	"rb": true, "php": true, "cs": true, "cpp": true, "cc": true,
	"swift": true, "kt": true, "rs": true, "scala": true, "sh": true,
}

// Issue is a normalized, classified finding. Immutable after classification.
type Issue struct {
	File        string         `json:"file"`
	Line        int            `json:"line"`
	BugType     detect.BugKind `json:"bug_type"`
	Description string         `json:"description"`
	CodeSnippet string         `json:"code_snippet"`
	Severity    string         `json:"severity"` // CRITICAL, WARNING, INFO
	Source      string         `json:"source"`   // ast, regex, test, ci
}

// Analyzer applies the AST engine with a regex fallback across a tree.
type Analyzer struct {
	engine *astengine.Engine
}

// New builds an Analyzer over the given engine.
func New(engine *astengine.Engine) *Analyzer {
	return &Analyzer{engine: engine}
}

// Analyze scans every analyzable source file under root and returns the
// classified issues. Paths that look like tests are excluded.
func (a *Analyzer) Analyze(ctx context.Context, root string) ([]Issue, error) {
	var issues []Issue
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/")
		if d.IsDir() {
			if skipDirs[d.Name()] || depth >= maxWalkDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if isTestPath(rel) || !analyzable(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > maxFileBytes {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			slog.Warn("skipping unreadable file", "file", rel, "error", readErr)
			return nil
		}

		issues = append(issues, a.analyzeFile(ctx, rel, content)...)
		return nil
	})
	return issues, err
}

// analyzeFile runs the AST engine and falls back to the regex detector when
// the language is unsupported or the parse failed without findings.
func (a *Analyzer) analyzeFile(ctx context.Context, rel string, content []byte) []Issue {
	res := a.engine.Analyze(ctx, content, rel, astengine.Options{Categories: scanCategories})
	violations := res.Violations
	if len(violations) == 0 && (!res.ASTSupported || res.Err != nil) {
		violations = regexdetect.Scan(content)
	}

	issues := make([]Issue, 0, len(violations))
	for _, v := range violations {
		issues = append(issues, FromViolation(rel, v))
	}
	return issues
}

// FromViolation converts a raw engine violation into a classified Issue.
func FromViolation(file string, v detect.Violation) Issue {
	snippet := v.Snippet
	if snippet == "" {
		snippet = v.LineText
	}
	return Issue{
		File:        file,
		Line:        v.Line,
		BugType:     Classify(v),
		Description: v.Message,
		CodeSnippet: snippet,
		Severity:    issueSeverity(v.Severity),
		Source:      v.Engine,
	}
}

// FromTestFailure converts a parsed test failure into an Issue.
func FromTestFailure(f testrun.Failure) Issue {
	return Issue{
		File:        f.File,
		Line:        f.Line,
		BugType:     ClassifyMessage(f.Message),
		Description: f.Message,
		Severity:    "CRITICAL",
		Source:      "test",
	}
}

func isTestPath(rel string) bool {
	lower := strings.ToLower(rel)
	return strings.Contains(lower, "test") ||
		strings.Contains(lower, "spec") ||
		strings.Contains(lower, "__tests__")
}

func analyzable(rel string) bool {
	if _, ok := grammar.FromFilename(rel); ok {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), ".")
	return sourceExts[ext]
}

func issueSeverity(ruleSeverity string) string {
	switch ruleSeverity {
	case detect.SeverityCritical, detect.SeverityHigh:
		return "CRITICAL"
	case detect.SeverityMedium:
		return "WARNING"
	default:
		return "INFO"
	}
}
