// Package testrun detects a repository's project type, discovers its test
// files, executes them (sandboxed when possible), and parses the output into
// structured failures.
package testrun

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/codeguardhq/codeguard/internal/sandbox"
)

const maxWalkDepth = 8

// skipDirs are never descended into during discovery.
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

// Failure is one parsed test failure. Line is zero when the output only
// attributed a file.
type Failure struct {
	File    string
	Line    int
	Message string
}

// Result is the outcome of one test run. RawOutput preserves the combined
// stdout+stderr for diagnostics regardless of parsing.
type Result struct {
	ProjectType string
	TestFiles   []string
	Failures    []Failure
	RawOutput   string
	ExitCode    int
	TimedOut    bool
	Sandboxed   bool
}

// DetectProjectType probes marker files in a fixed order; the first match
// wins.
func DetectProjectType(root string) string {
	probes := []struct {
		markers []string
		kind    string
	}{
		{[]string{"package.json"}, "node"},
		{[]string{"requirements.txt", "setup.py", "pyproject.toml", "Pipfile"}, "python"},
		{[]string{"pom.xml", "build.gradle"}, "java"},
		{[]string{"go.mod"}, "go"},
		{[]string{"Cargo.toml"}, "rust"},
		{[]string{"Makefile"}, "make"},
	}
	for _, p := range probes {
		for _, marker := range p.markers {
			if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
				return p.kind
			}
		}
	}
	return "unknown"
}

// isTestFile matches a file against the project type's test naming
// conventions.
func isTestFile(projectType, path string) bool {
	base := filepath.Base(path)
	switch projectType {
	case "node":
		return strings.Contains(base, ".test.") ||
			strings.Contains(base, ".spec.") ||
			strings.Contains(filepath.ToSlash(path), "__tests__/")
	case "python":
		return (strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py")) &&
			strings.HasSuffix(base, ".py")
	case "java":
		return strings.HasSuffix(base, "Test.java") || strings.HasSuffix(base, "Tests.java")
	case "go":
		return strings.HasSuffix(base, "_test.go")
	case "rust":
		return strings.HasSuffix(base, ".rs") &&
			(strings.Contains(filepath.ToSlash(path), "tests/") || strings.HasSuffix(base, "_test.rs"))
	default:
		lower := strings.ToLower(path)
		return strings.Contains(lower, "test")
	}
}

// DiscoverTestFiles walks root up to maxWalkDepth and returns repo-relative
// test file paths.
func DiscoverTestFiles(root, projectType string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		depth := strings.Count(filepath.ToSlash(rel), "/")
		if d.IsDir() {
			if skipDirs[d.Name()] || depth >= maxWalkDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if isTestFile(projectType, rel) {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	return files, err
}

// Runner executes a repository's tests, preferring the sandbox.
type Runner struct {
	sandbox *sandbox.Sandbox
}

// NewRunner builds a Runner over the given sandbox.
func NewRunner(sb *sandbox.Sandbox) *Runner {
	return &Runner{sandbox: sb}
}

// Run detects the project, discovers tests, executes them, and parses the
// output. A repo with no test files yields an empty Result without running
// anything.
func (r *Runner) Run(ctx context.Context, repoPath string) (Result, error) {
	projectType := DetectProjectType(repoPath)
	res := Result{ProjectType: projectType}
	if projectType == "unknown" {
		slog.Info("no recognizable project markers, skipping tests", "path", repoPath)
		return res, nil
	}

	files, err := DiscoverTestFiles(repoPath, projectType)
	if err != nil {
		return res, err
	}
	res.TestFiles = files
	if len(files) == 0 {
		slog.Info("no test files found", "path", repoPath, "project_type", projectType)
		return res, nil
	}

	var out sandbox.Result
	if r.sandbox.Available(ctx) {
		res.Sandboxed = true
		out, err = r.sandbox.RunTests(ctx, repoPath, projectType)
	} else {
		// Explicit, logged fallback: without a container runtime the tests
		// run directly on the host with only a wall-clock bound.
		slog.Warn("container runtime unavailable, running tests directly on host", "path", repoPath)
		out, err = r.runDirect(ctx, repoPath, projectType)
	}
	if err != nil {
		return res, err
	}

	res.RawOutput = out.Combined()
	res.ExitCode = out.ExitCode
	res.TimedOut = out.TimedOut
	res.Failures = ParseFailures(projectType, res.RawOutput)
	return res, nil
}

func (r *Runner) runDirect(ctx context.Context, repoPath, projectType string) (sandbox.Result, error) {
	cmd, err := sandbox.TestCommand(projectType)
	if err != nil {
		return sandbox.Result{}, err
	}

	var stdout, stderr bytes.Buffer
	proc := exec.CommandContext(ctx, "sh", "-c", cmd)
	proc.Dir = repoPath
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	runErr := proc.Run()
	res := sandbox.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, runErr
	}
	return res, nil
}
