package astengine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeguardhq/codeguard/internal/detect/grammar"
	"github.com/codeguardhq/codeguard/internal/detect/rules"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	catalog, err := rules.Load()
	require.NoError(t, err)
	grammars := grammar.NewRegistry()
	e := New(grammars, catalog)
	t.Cleanup(func() {
		e.Close()
		grammars.Close()
	})
	return e
}

func TestValidateRules_CatalogCompilesClean(t *testing.T) {
	e := newTestEngine(t)
	assert.Empty(t, e.ValidateRules())
}

func TestAnalyze_FindsEvalCall(t *testing.T) {
	e := newTestEngine(t)
	source := []byte("const payload = req.body.code;\nconst out = eval(payload);\n")

	res := e.Analyze(context.Background(), source, "handler.js", Options{})
	require.NoError(t, res.Err)
	assert.True(t, res.ASTSupported)
	assert.Equal(t, grammar.LangJS, res.Language)
	assert.Positive(t, res.RulesChecked)

	var hit bool
	for _, v := range res.Violations {
		if v.RuleID == "js-sec-001" {
			hit = true
			assert.Equal(t, 2, v.Line)
			assert.Equal(t, "eval", v.Snippet)
			assert.Equal(t, "const out = eval(payload);", v.LineText)
			assert.Equal(t, "ast", v.Engine)
		}
	}
	assert.True(t, hit, "expected js-sec-001 to fire")
}

func TestAnalyze_SuppressionMarkers(t *testing.T) {
	e := newTestEngine(t)
	opts := Options{RuleIDs: []string{"js-sec-001"}}

	sameLine := []byte("eval(x); // codeguard-ignore\n")
	res := e.Analyze(context.Background(), sameLine, "a.js", opts)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Violations, "marker on the match line suppresses")

	lineAbove := []byte("// eslint-disable\neval(x);\n")
	res = e.Analyze(context.Background(), lineAbove, "a.js", opts)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Violations, "marker on the preceding line suppresses")

	twoAbove := []byte("// codeguard-ignore\nconst y = 1;\neval(x);\n")
	res = e.Analyze(context.Background(), twoAbove, "a.js", opts)
	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.Violations, "marker two lines up must not suppress")
}

func TestAnalyze_LanguageOverride(t *testing.T) {
	e := newTestEngine(t)

	res := e.Analyze(context.Background(), []byte("eval(x);\n"), "snippet.txt", Options{Language: "javascript"})
	require.NoError(t, res.Err)
	assert.True(t, res.ASTSupported)
	assert.Equal(t, grammar.LangJS, res.Language)
}

func TestAnalyze_UnsupportedFile(t *testing.T) {
	e := newTestEngine(t)

	res := e.Analyze(context.Background(), []byte("# notes\n"), "README.md", Options{})
	assert.False(t, res.ASTSupported)
	assert.Empty(t, res.Violations)
}

func TestAnalyze_SnippetTruncated(t *testing.T) {
	e := newTestEngine(t)

	// A var declaration much longer than the snippet cap.
	source := []byte("var blob = \"" + strings.Repeat("a", 300) + "\";\n")
	res := e.Analyze(context.Background(), source, "big.js", Options{RuleIDs: []string{"js-bp-001"}})
	require.NoError(t, res.Err)
	require.NotEmpty(t, res.Violations)
	assert.LessOrEqual(t, len(res.Violations[0].Snippet), maxSnippetLen)
}
