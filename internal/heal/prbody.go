package heal

import (
	"fmt"
	"sort"
	"strings"
)

// statusChip maps a fix status to a markdown chip for the PR body.
var statusChip = map[string]string{
	FixApplied:      "✅ applied",
	FixUnfixable:    "⚠️ unfixable",
	FixSkipped:      "⏭️ skipped",
	FixError:        "❌ error",
	FixCommitFailed: "❌ commit failed",
}

// renderPRBody produces the healing PR description from the current session
// state: summary counts, per-file fix list, and the CI timeline.
func renderPRBody(s *Session) string {
	var b strings.Builder

	b.WriteString("## Automated Repair Report\n\n")
	fmt.Fprintf(&b, "| Issues detected | Fixes applied | Retries | CI status |\n")
	fmt.Fprintf(&b, "|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %s |\n\n",
		s.InitialIssueCount, s.AppliedFixes(), s.RetryCount, s.CIStatus)

	if len(s.Fixes) > 0 {
		b.WriteString("### Fixes by file\n\n")
		byFile := make(map[string][]*Fix)
		for _, f := range s.Fixes {
			byFile[f.File] = append(byFile[f.File], f)
		}
		files := make([]string, 0, len(byFile))
		for file := range byFile {
			files = append(files, file)
		}
		sort.Strings(files)

		for _, file := range files {
			fmt.Fprintf(&b, "**`%s`**\n", file)
			for _, f := range byFile[file] {
				chip := statusChip[f.Status]
				if chip == "" {
					chip = f.Status
				}
				fmt.Fprintf(&b, "- line %d (%s): %s — %s\n", f.Line, f.BugType, f.CommitMessage, chip)
			}
			b.WriteString("\n")
		}
	}

	if len(s.CITimeline) > 0 {
		b.WriteString("### CI timeline\n\n")
		for _, row := range s.CITimeline {
			fmt.Fprintf(&b, "%d. `%s` — **%s** @ %s",
				row.Iteration, row.CommitSHA, row.Status, row.Timestamp.Format("15:04:05"))
			if len(row.Checks) > 0 {
				names := make([]string, 0, len(row.Checks))
				for _, c := range row.Checks {
					names = append(names, fmt.Sprintf("%s: %s", c.Name, c.Status))
				}
				fmt.Fprintf(&b, " (%s)", strings.Join(names, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n*Opened automatically by CodeGuard.*\n")
	return b.String()
}
