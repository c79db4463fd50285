// Package astengine evaluates the tree-sitter rule catalog against source
// files and emits violations with precise positions.
package astengine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codeguardhq/codeguard/internal/detect"
	"github.com/codeguardhq/codeguard/internal/detect/grammar"
	"github.com/codeguardhq/codeguard/internal/detect/rules"
)

// suppressionMarkers disable a finding when present on the match's line or
// the line immediately above it.
var suppressionMarkers = []string{"codeguard-ignore", "noqa", "eslint-disable", "@suppress"}

const maxSnippetLen = 120

// Options narrows an analysis run. Language overrides filename resolution;
// empty Categories and RuleIDs match the whole catalog.
type Options struct {
	Language   string
	Categories []string
	RuleIDs    []string
}

// Result is the outcome of analyzing one file. Err is set instead of
// returned so timing fields survive failure paths.
type Result struct {
	Violations   []detect.Violation
	Language     grammar.Language
	ASTSupported bool
	ParseTimeMs  float64
	QueryTimeMs  float64
	RulesChecked int
	Err          error
}

// Engine parses files and runs compiled catalog queries over them. Compiled
// queries are cached per (language, rule) for the life of the engine.
type Engine struct {
	grammars *grammar.Registry
	catalog  *rules.Registry

	mu      sync.Mutex
	queries map[string]*sitter.Query
}

// New builds an engine over the given grammar registry and rule catalog.
func New(grammars *grammar.Registry, catalog *rules.Registry) *Engine {
	return &Engine{
		grammars: grammars,
		catalog:  catalog,
		queries:  make(map[string]*sitter.Query),
	}
}

// ValidateRules compiles every catalog query once, disabling the broken ones.
// Call at startup; returns one error per disabled rule.
func (e *Engine) ValidateRules() []error {
	return e.catalog.Validate(func(lang grammar.Language, query string) error {
		gl, err := e.grammars.Grammar(lang)
		if err != nil {
			return err
		}
		q, err := sitter.NewQuery([]byte(query), gl)
		if err != nil {
			return err
		}
		q.Close()
		return nil
	})
}

// Analyze parses source and evaluates the filtered rule set against it.
func (e *Engine) Analyze(ctx context.Context, source []byte, filename string, opts Options) Result {
	var res Result

	var lang grammar.Language
	var ok bool
	if opts.Language != "" {
		lang, ok = grammar.Normalize(opts.Language)
	} else {
		lang, ok = grammar.FromFilename(filename)
	}
	if !ok {
		return res
	}
	res.Language = lang
	res.ASTSupported = true

	parseStart := time.Now()
	tree, err := e.grammars.Parse(ctx, source, lang)
	res.ParseTimeMs = msSince(parseStart)
	if err != nil {
		res.Err = err
		return res
	}
	defer tree.Close()

	ruleSet := e.catalog.Queries(lang, opts.Categories, opts.RuleIDs)
	if len(ruleSet) == 0 {
		return res
	}

	lines := strings.Split(string(source), "\n")
	root := tree.RootNode()

	queryStart := time.Now()
	for _, rule := range ruleSet {
		q, err := e.query(lang, rule)
		if err != nil {
			// A rule that slipped past validation must not abort the scan.
			slog.Warn("skipping rule with uncompilable query", "rule", rule.ID, "error", err)
			continue
		}
		res.RulesChecked++
		res.Violations = append(res.Violations, e.matchRule(q, rule, root, source, lines)...)
	}
	res.QueryTimeMs = msSince(queryStart)

	return res
}

func (e *Engine) matchRule(q *sitter.Query, rule rules.Rule, root *sitter.Node, source []byte, lines []string) []detect.Violation {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var out []detect.Violation
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, source)
		if len(m.Captures) == 0 {
			continue
		}

		node := targetNode(q, m)
		line := int(node.StartPoint().Row) + 1
		if suppressed(lines, line) {
			continue
		}

		out = append(out, detect.Violation{
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Category:  rule.Category,
			Severity:  rule.Severity,
			Message:   rule.Message,
			Line:      line,
			Column:    int(node.StartPoint().Column) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
			EndColumn: int(node.EndPoint().Column) + 1,
			Snippet:   truncate(node.Content(source), maxSnippetLen),
			LineText:  lineAt(lines, line),
			Engine:    "ast",
		})
	}
	return out
}

// query returns the cached compiled query for (lang, rule), compiling on
// first use. ts rules compile separately against the tsx grammar.
func (e *Engine) query(lang grammar.Language, rule rules.Rule) (*sitter.Query, error) {
	key := string(lang) + "/" + rule.ID

	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.queries[key]; ok {
		return q, nil
	}

	gl, err := e.grammars.Grammar(lang)
	if err != nil {
		return nil, err
	}
	q, err := sitter.NewQuery([]byte(rule.Query), gl)
	if err != nil {
		return nil, err
	}
	e.queries[key] = q
	return q, nil
}

// Close releases every cached compiled query.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, q := range e.queries {
		q.Close()
		delete(e.queries, key)
	}
}

// targetNode picks the capture named "target", falling back to the first.
func targetNode(q *sitter.Query, m *sitter.QueryMatch) *sitter.Node {
	for _, c := range m.Captures {
		if q.CaptureNameForId(c.Index) == "target" {
			return c.Node
		}
	}
	return m.Captures[0].Node
}

// suppressed reports whether line (1-based) or the line above carries a
// suppression marker.
func suppressed(lines []string, line int) bool {
	for _, idx := range []int{line - 1, line - 2} {
		if idx < 0 || idx >= len(lines) {
			continue
		}
		for _, marker := range suppressionMarkers {
			if strings.Contains(lines[idx], marker) {
				return true
			}
		}
	}
	return false
}

func lineAt(lines []string, line int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
