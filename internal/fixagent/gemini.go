package fixagent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/codeguardhq/codeguard/internal/analyzer"
)

// contextRadius is how many lines around the issue the prompt highlights.
const contextRadius = 15

var (
	fixedCodeRe   = regexp.MustCompile(`(?s)===FIXED_CODE_START===\s*\n?(.*?)\n?\s*===FIXED_CODE_END===`)
	commitMsgRe   = regexp.MustCompile(`(?s)===COMMIT_MESSAGE===\s*\n?(.*?)\s*(?:===EXPLANATION===|$)`)
	explanationRe = regexp.MustCompile(`(?s)===EXPLANATION===\s*\n?(.*)\s*$`)
	fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")
)

// Gemini proposes fixes by prompting a Gemini model with the issue and the
// surrounding file content.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini builds a Gemini proposer against the public Gemini API.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, timeout: timeout}, nil
}

// Propose asks the model for a full-file replacement and parses the
// delimited response.
func (g *Gemini) Propose(ctx context.Context, issue analyzer.Issue, fileContent string) (Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := buildPrompt(issue, fileContent)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("generating fix: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Proposal{}, fmt.Errorf("model returned an empty response")
	}
	return parseResponse(text)
}

// buildPrompt enumerates the issue and demands a strictly delimited answer.
func buildPrompt(issue analyzer.Issue, fileContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an automated code repair agent. Fix exactly one issue in a source file.\n\n")
	fmt.Fprintf(&b, "File: %s\n", issue.File)
	fmt.Fprintf(&b, "Line: %d\n", issue.Line)
	fmt.Fprintf(&b, "Bug type: %s\n", issue.BugType)
	fmt.Fprintf(&b, "Description: %s\n\n", issue.Description)
	fmt.Fprintf(&b, "Context around the issue:\n```\n%s\n```\n\n", contextWindow(fileContent, issue.Line))
	fmt.Fprintf(&b, "Full current file content:\n```\n%s\n```\n\n", fileContent)
	b.WriteString(`Respond with EXACTLY this structure and nothing else:

===FIXED_CODE_START===
<the complete corrected file content>
===FIXED_CODE_END===
===COMMIT_MESSAGE===
<one-line commit message describing the fix>
===EXPLANATION===
<one or two sentences explaining the change>
`)
	return b.String()
}

// contextWindow returns the lines within contextRadius of line (1-based),
// with line numbers.
func contextWindow(content string, line int) string {
	lines := strings.Split(content, "\n")
	start := line - 1 - contextRadius
	if start < 0 {
		start = 0
	}
	end := line + contextRadius
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		marker := "  "
		if i == line-1 {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%4d | %s\n", marker, i+1, lines[i])
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseResponse extracts the three delimited sections. When the delimiters
// are missing it accepts a single fenced code block as the replacement.
func parseResponse(text string) (Proposal, error) {
	p := Proposal{}

	if m := fixedCodeRe.FindStringSubmatch(text); m != nil {
		p.FixedCode = stripFence(m[1])
	} else if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		p.FixedCode = m[1]
	} else {
		return p, fmt.Errorf("response carries no recognizable code section")
	}

	if m := commitMsgRe.FindStringSubmatch(text); m != nil {
		p.CommitMessage = firstLine(m[1])
	}
	if m := explanationRe.FindStringSubmatch(text); m != nil {
		p.Explanation = strings.TrimSpace(m[1])
	}

	p.Success = strings.TrimSpace(p.FixedCode) != ""
	return p, nil
}

// stripFence removes a wrapping markdown code fence the model sometimes adds
// inside the delimiters.
func stripFence(code string) string {
	trimmed := strings.TrimSpace(code)
	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil && strings.HasPrefix(trimmed, "```") {
		return m[1]
	}
	return code
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
