package heal

import "strings"

// branchSuffix terminates every healing branch name.
const branchSuffix = "_AI_Fix"

// Sanitize uppercases s, drops every character outside [A-Z0-9 ], and joins
// the remaining words with underscores. Deterministic: client-side previews
// must produce the identical name.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), "_")
}

// BranchName derives the healing branch name from a team and leader name.
func BranchName(team, leader string) string {
	return Sanitize(team) + "_" + Sanitize(leader) + branchSuffix
}
