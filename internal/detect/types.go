// Package detect holds the types shared by the AST and regex detection
// engines and their consumers.
package detect

// BugKind is the coarse classification a violation resolves to. The fix
// generator keys its strategies off this value.
type BugKind string

const (
	BugSyntax      BugKind = "SYNTAX"
	BugLinting     BugKind = "LINTING"
	BugLogic       BugKind = "LOGIC"
	BugTypeError   BugKind = "TYPE_ERROR"
	BugImport      BugKind = "IMPORT"
	BugIndentation BugKind = "INDENTATION"
)

// Severity levels, ordered from worst to mildest.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Violation is a single finding from either engine. Line numbers are 1-based.
type Violation struct {
	RuleID    string  `json:"ruleId"`
	RuleName  string  `json:"ruleName"`
	Category  string  `json:"category"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Line      int     `json:"line"`
	Column    int     `json:"column"`
	EndLine   int     `json:"endLine"`
	EndColumn int     `json:"endColumn"`
	Snippet   string  `json:"snippet"`
	LineText  string  `json:"lineText"`
	Engine    string  `json:"engine"` // "ast" or "regex"
	Kind      BugKind `json:"kind,omitempty"`
}
