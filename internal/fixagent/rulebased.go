package fixagent

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/codeguardhq/codeguard/internal/detect"
)

var (
	secretAssignRe = regexp.MustCompile(`(?i)((?:api[_-]?key|passw(?:or)?d|secret|token)\s*[:=]\s*)(['"][^'"]*['"])`)
	looseEqRe      = regexp.MustCompile(`([^=!<>])==([^=])`)
	propAccessRe   = regexp.MustCompile(`(\w)\.(\w)`)
	debugCallRe    = regexp.MustCompile(`console\.(log|debug)|^\s*print\s*\(|System\.out\.println|fmt\.Println|\balert\s*\(`)
	importLineRe   = regexp.MustCompile(`^\s*(import\b|from\s+\S+\s+import\b|const\s+\w+\s*=\s*require\(|require\()`)
)

// RuleBased applies deterministic per-BugKind mutations to the offending
// line. It is the fallback when no LLM is configured or its answer was
// rejected.
type RuleBased struct{}

// NewRuleBased builds the deterministic proposer.
func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

// Propose mutates the issue's line according to its bug kind. An issue with
// no applicable mutation yields Success=false.
func (r *RuleBased) Propose(_ context.Context, issue analyzer.Issue, fileContent string) (Proposal, error) {
	lines := strings.Split(fileContent, "\n")
	idx := issue.Line - 1
	if idx < 0 || idx >= len(lines) {
		return Proposal{}, nil
	}

	line := lines[idx]
	fixed, desc, ok := mutateLine(issue.BugType, line, commentPrefix(issue.File))
	if !ok {
		return Proposal{}, nil
	}

	lines[idx] = fixed
	return Proposal{
		Success:       true,
		FixedCode:     strings.Join(lines, "\n"),
		CommitMessage: fmt.Sprintf("%s %s in %s:%d", CommitMarker, desc, issue.File, issue.Line),
		Explanation:   fmt.Sprintf("Rule-based fix: %s.", strings.ToLower(desc[:1])+desc[1:]),
	}, nil
}

// mutateLine applies the first strategy matching the bug kind. Returns the
// rewritten line, a commit description, and whether anything applied.
func mutateLine(kind detect.BugKind, line, comment string) (string, string, bool) {
	switch kind {
	case detect.BugSyntax:
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" || strings.ContainsAny(trimmed[len(trimmed)-1:], ";{}:,") {
			return "", "", false
		}
		return trimmed + ";", "Add missing statement terminator", true

	case detect.BugLinting:
		if debugCallRe.MatchString(line) {
			return commentOut(line, comment), "Remove debug output", true
		}
		if strings.Contains(line, "var ") {
			return strings.Replace(line, "var ", "let ", 1), "Replace var with let", true
		}
		return "", "", false

	case detect.BugLogic:
		if strings.Contains(line, "eval(") {
			return strings.ReplaceAll(line, "eval(", "Function("), "Replace eval with Function constructor", true
		}
		if m := secretAssignRe.FindStringSubmatch(line); m != nil {
			return secretAssignRe.ReplaceAllString(line, `${1}`+envLookup(comment)), "Replace hardcoded secret with environment lookup", true
		}
		if looseEqRe.MatchString(line) {
			return looseEqRe.ReplaceAllString(line, "$1===$2"), "Replace loose equality with strict equality", true
		}
		return "", "", false

	case detect.BugTypeError:
		if propAccessRe.MatchString(line) {
			return propAccessRe.ReplaceAllString(line, "$1?.$2"), "Guard property access with optional chaining", true
		}
		return "", "", false

	case detect.BugImport:
		if importLineRe.MatchString(line) {
			return commentOut(line, comment), "Disable unresolved import", true
		}
		return "", "", false

	case detect.BugIndentation:
		if !strings.HasPrefix(line, "\t") {
			return "", "", false
		}
		rest := strings.TrimLeft(line, "\t")
		tabs := len(line) - len(rest)
		return strings.Repeat("    ", tabs) + rest, "Normalize indentation to spaces", true

	default:
		return "", "", false
	}
}

func commentOut(line, comment string) string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	return indent + comment + " " + strings.TrimLeft(line, " \t")
}

// commentPrefix picks the line-comment token for a file's language.
func commentPrefix(file string) string {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(file)), ".") {
	case "py", "rb", "sh", "yaml", "yml":
		return "#"
	default:
		return "//"
	}
}

// envLookup renders an environment read in the file's language family.
func envLookup(comment string) string {
	if comment == "#" {
		return `os.environ.get("SECRET_VALUE")`
	}
	return "process.env.SECRET_VALUE"
}
