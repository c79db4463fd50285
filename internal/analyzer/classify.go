package analyzer

import (
	"strings"

	"github.com/codeguardhq/codeguard/internal/detect"
)

// Classify maps a raw violation onto a BugKind. Precedence: an explicit kind
// from the engine wins, then message substrings, then category, then LOGIC.
// Total: every input classifies.
func Classify(v detect.Violation) detect.BugKind {
	switch v.Kind {
	case detect.BugSyntax, detect.BugImport, detect.BugTypeError,
		detect.BugIndentation, detect.BugLinting, detect.BugLogic:
		return v.Kind
	}

	msg := strings.ToLower(v.Message)
	rule := strings.ToLower(v.RuleID + " " + v.RuleName)

	switch {
	case containsAny(msg, "syntax", "unexpected token", "parsing error"):
		return detect.BugSyntax
	case containsAny(msg, "import", "require", "module not found") ||
		containsAny(rule, "import", "require"):
		return detect.BugImport
	case containsAny(msg, "type", "undefined", "null reference", "incompatible"):
		return detect.BugTypeError
	case containsAny(msg, "indent", "whitespace", "tab", "spacing"):
		return detect.BugIndentation
	case v.Category == "style" || v.Category == "naming" ||
		containsAny(msg, "lint", "naming", "convention", "unused"):
		return detect.BugLinting
	default:
		return detect.BugLogic
	}
}

// ClassifyMessage maps a free-form failure message (test output, CI log)
// onto a BugKind.
func ClassifyMessage(message string) detect.BugKind {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "syntax"):
		return detect.BugSyntax
	case containsAny(msg, "import", "module"):
		return detect.BugImport
	case containsAny(msg, "type", "undefined"):
		return detect.BugTypeError
	case containsAny(msg, "indent", "whitespace"):
		return detect.BugIndentation
	case strings.Contains(msg, "lint"):
		return detect.BugLinting
	default:
		return detect.BugLogic
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
