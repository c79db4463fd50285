package fixagent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/codeguardhq/codeguard/internal/detect"
)

func TestParseResponse_Delimited(t *testing.T) {
	text := `===FIXED_CODE_START===
let x = 1;
console.log(x);
===FIXED_CODE_END===
===COMMIT_MESSAGE===
Replace var with let
===EXPLANATION===
var leaks scope; let keeps the variable block scoped.`

	p, err := parseResponse(text)
	require.NoError(t, err)
	assert.True(t, p.Success)
	assert.Equal(t, "let x = 1;\nconsole.log(x);", p.FixedCode)
	assert.Equal(t, "Replace var with let", p.CommitMessage)
	assert.Contains(t, p.Explanation, "block scoped")
}

func TestParseResponse_FencedInsideDelimiters(t *testing.T) {
	text := "===FIXED_CODE_START===\n```js\nlet x = 1;\n```\n===FIXED_CODE_END===\n===COMMIT_MESSAGE===\nFix it\n"
	p, err := parseResponse(text)
	require.NoError(t, err)
	assert.Equal(t, "let x = 1;\n", p.FixedCode)
	assert.Equal(t, "Fix it", p.CommitMessage)
}

func TestParseResponse_BareFencedFallback(t *testing.T) {
	text := "Here is the corrected file:\n```python\nimport os\nprint(os.name)\n```\nHope this helps."
	p, err := parseResponse(text)
	require.NoError(t, err)
	assert.True(t, p.Success)
	assert.Equal(t, "import os\nprint(os.name)\n", p.FixedCode)
}

func TestParseResponse_NoCodeSection(t *testing.T) {
	_, err := parseResponse("I cannot fix this issue.")
	assert.Error(t, err)
}

func TestParseResponse_MultilineCommitMessageKeepsFirstLine(t *testing.T) {
	text := "===FIXED_CODE_START===\nx = 1\n===FIXED_CODE_END===\n===COMMIT_MESSAGE===\nShort summary\nwith a second line\n===EXPLANATION===\ndetails"
	p, err := parseResponse(text)
	require.NoError(t, err)
	assert.Equal(t, "Short summary", p.CommitMessage)
}

func TestContextWindow(t *testing.T) {
	var lines []string
	for i := 1; i <= 50; i++ {
		lines = append(lines, "line")
	}
	content := strings.Join(lines, "\n")

	window := contextWindow(content, 25)
	assert.Contains(t, window, ">   25 | line")
	assert.Contains(t, window, "  10 | line")
	assert.Contains(t, window, "  40 | line")
	assert.NotContains(t, window, "   9 | ")
	assert.NotContains(t, window, "  41 | ")
}

func TestContextWindow_ClampsAtFileEdges(t *testing.T) {
	window := contextWindow("a\nb\nc", 1)
	assert.Contains(t, window, ">    1 | a")
	assert.Contains(t, window, "   3 | c")
}

func TestBuildPrompt(t *testing.T) {
	issue := analyzer.Issue{
		File: "src/app.js", Line: 2, BugType: detect.BugLogic,
		Description: "eval on user input",
	}
	prompt := buildPrompt(issue, "const a = 1\neval(input)\n")
	assert.Contains(t, prompt, "File: src/app.js")
	assert.Contains(t, prompt, "Line: 2")
	assert.Contains(t, prompt, "Bug type: LOGIC")
	assert.Contains(t, prompt, "===FIXED_CODE_START===")
	assert.Contains(t, prompt, "===COMMIT_MESSAGE===")
	assert.Contains(t, prompt, "===EXPLANATION===")
}
