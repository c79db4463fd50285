// Package regexdetect scans source line-by-line against a fixed pattern
// catalog. It covers languages the AST engine does not, backs it up when a
// grammar fails, and serves as the fast path for inline PR analysis.
package regexdetect

import (
	"regexp"
	"strings"

	"github.com/codeguardhq/codeguard/internal/detect"
)

const maxSnippetLen = 120

type pattern struct {
	id       string
	name     string
	category string
	severity string
	kind     detect.BugKind
	message  string
	re       *regexp.Regexp
}

func entry(id, name, category, severity string, kind detect.BugKind, message, expr string) pattern {
	return pattern{id, name, category, severity, kind, message, regexp.MustCompile(expr)}
}

// catalog is compiled once at init. Entries are grouped by theme; ids are
// stable so findings can be suppressed per rule downstream.
var catalog = []pattern{
	// Hardcoded secrets.
	entry("rx-secret-001", "aws-access-key", "security", detect.SeverityCritical, detect.BugLogic,
		"Hardcoded AWS access key id", `AKIA[0-9A-Z]{16}`),
	entry("rx-secret-002", "api-key-literal", "security", detect.SeverityCritical, detect.BugLogic,
		"Hardcoded API key; load it from the environment", `(?i)api[_-]?key\s*[:=]\s*['"][A-Za-z0-9_\-]{16,}['"]`),
	entry("rx-secret-003", "password-literal", "security", detect.SeverityCritical, detect.BugLogic,
		"Hardcoded password; load it from the environment", `(?i)passw(or)?d\s*[:=]\s*['"][^'"]{4,}['"]`),
	entry("rx-secret-004", "private-key-block", "security", detect.SeverityCritical, detect.BugLogic,
		"Private key material committed to source", `-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
	entry("rx-secret-005", "github-token", "security", detect.SeverityCritical, detect.BugLogic,
		"Hardcoded GitHub token", `gh[pousr]_[A-Za-z0-9]{36,}`),
	entry("rx-secret-006", "slack-token", "security", detect.SeverityCritical, detect.BugLogic,
		"Hardcoded Slack token", `xox[baprs]-[A-Za-z0-9-]{10,}`),
	entry("rx-secret-007", "bearer-literal", "security", detect.SeverityHigh, detect.BugLogic,
		"Hardcoded bearer token in an Authorization header", `(?i)authorization['"]?\s*[:=]\s*['"]bearer\s+[A-Za-z0-9\-._~+/]+`),
	entry("rx-secret-008", "secret-literal", "security", detect.SeverityHigh, detect.BugLogic,
		"Hardcoded secret value; load it from the environment", `(?i)secret\s*[:=]\s*['"][^'"]{8,}['"]`),

	// Weak cryptography.
	entry("rx-crypto-001", "weak-hash-md5", "security", detect.SeverityHigh, detect.BugLogic,
		"MD5 is cryptographically broken; use SHA-256 or better",
		`(?i)createHash\(\s*['"]md5['"]\)|hashlib\.md5|crypto/md5|MessageDigest\.getInstance\(\s*"MD5"`),
	entry("rx-crypto-002", "weak-hash-sha1", "security", detect.SeverityMedium, detect.BugLogic,
		"SHA-1 is collision-prone; use SHA-256 or better",
		`(?i)createHash\(\s*['"]sha1['"]\)|hashlib\.sha1|crypto/sha1|MessageDigest\.getInstance\(\s*"SHA-1"`),
	entry("rx-crypto-003", "des-cipher", "security", detect.SeverityHigh, detect.BugLogic,
		"DES is obsolete; use AES-GCM", `(?i)Cipher\.getInstance\(\s*"DES|createCipheriv\(\s*['"]des`),
	entry("rx-crypto-004", "ecb-mode", "security", detect.SeverityHigh, detect.BugLogic,
		"ECB mode leaks plaintext structure; use GCM or CBC with random IVs", `(?i)(AES|DES)[/-]ECB`),
	entry("rx-crypto-005", "rc4-cipher", "security", detect.SeverityHigh, detect.BugLogic,
		"RC4 is broken; use AES-GCM", `(?i)\brc4\b`),

	// Insecure randomness.
	entry("rx-random-001", "math-random", "security", detect.SeverityMedium, detect.BugLogic,
		"Math.random is not cryptographically secure; use crypto.getRandomValues", `Math\.random\s*\(`),
	entry("rx-random-002", "python-random", "security", detect.SeverityLow, detect.BugLogic,
		"The random module is not cryptographically secure; use secrets", `(?i)\brandom\.(random|randint|choice)\s*\(`),

	// TLS verification disabled.
	entry("rx-ssl-001", "reject-unauthorized-off", "security", detect.SeverityCritical, detect.BugLogic,
		"TLS certificate verification disabled", `rejectUnauthorized\s*:\s*false`),
	entry("rx-ssl-002", "requests-verify-off", "security", detect.SeverityCritical, detect.BugLogic,
		"TLS certificate verification disabled", `(?i)verify\s*=\s*False`),
	entry("rx-ssl-003", "insecure-skip-verify", "security", detect.SeverityCritical, detect.BugLogic,
		"TLS certificate verification disabled", `InsecureSkipVerify\s*:\s*true`),
	entry("rx-ssl-004", "node-tls-reject-off", "security", detect.SeverityCritical, detect.BugLogic,
		"TLS certificate verification disabled process-wide", `NODE_TLS_REJECT_UNAUTHORIZED['"]?\]?\s*=\s*['"]?0`),

	// XSS sinks.
	entry("rx-xss-001", "inner-html-assign", "security", detect.SeverityHigh, detect.BugLogic,
		"innerHTML assignment is an XSS sink; use textContent or sanitize", `\.innerHTML\s*=`),
	entry("rx-xss-002", "document-write", "security", detect.SeverityHigh, detect.BugLogic,
		"document.write with dynamic input is an XSS sink", `document\.write\s*\(`),
	entry("rx-xss-003", "dangerously-set-inner-html", "security", detect.SeverityHigh, detect.BugLogic,
		"dangerouslySetInnerHTML renders raw markup; sanitize first", `dangerouslySetInnerHTML`),
	entry("rx-xss-004", "outer-html-assign", "security", detect.SeverityHigh, detect.BugLogic,
		"outerHTML assignment is an XSS sink", `\.outerHTML\s*=`),

	// Dynamic code execution.
	entry("rx-eval-001", "eval-call", "security", detect.SeverityCritical, detect.BugLogic,
		"eval() executes arbitrary code", `\beval\s*\(`),
	entry("rx-eval-002", "function-constructor", "security", detect.SeverityHigh, detect.BugLogic,
		"The Function constructor compiles strings to code", `new\s+Function\s*\(`),
	entry("rx-eval-003", "settimeout-string", "security", detect.SeverityHigh, detect.BugLogic,
		"setTimeout with a string argument is implicit eval", `setTimeout\s*\(\s*['"]`),
	entry("rx-eval-004", "exec-call", "security", detect.SeverityCritical, detect.BugLogic,
		"exec() executes arbitrary code", `\bexec\s*\(`),

	// SQL injection.
	entry("rx-sqli-001", "sql-string-concat", "security", detect.SeverityCritical, detect.BugLogic,
		"SQL built by string concatenation; use parameterized queries", `(?i)(select|insert|update|delete)\s+.*['"]\s*\+`),
	entry("rx-sqli-002", "sql-template-interp", "security", detect.SeverityCritical, detect.BugLogic,
		"SQL built by template interpolation; use parameterized queries", "(?i)(select|insert|update|delete)[^\"'`]*\\$\\{"),
	entry("rx-sqli-003", "sql-fstring", "security", detect.SeverityCritical, detect.BugLogic,
		"SQL built with an f-string; use parameterized queries", `(?i)f['"]\s*(select|insert|update|delete)\b`),
	entry("rx-sqli-004", "sql-percent-format", "security", detect.SeverityHigh, detect.BugLogic,
		"SQL built with % formatting; use parameterized queries", `(?i)execute\s*\(\s*['"].*%s`),

	// Command injection.
	entry("rx-cmd-001", "exec-string-concat", "security", detect.SeverityCritical, detect.BugLogic,
		"Shell command built by concatenation", `(?i)exec(Sync)?\s*\(\s*['"].*['"]\s*\+`),
	entry("rx-cmd-002", "os-system", "security", detect.SeverityHigh, detect.BugLogic,
		"os.system runs through a shell; use subprocess.run with an argument list", `os\.system\s*\(`),
	entry("rx-cmd-003", "subprocess-shell-true", "security", detect.SeverityHigh, detect.BugLogic,
		"shell=True invites command injection", `shell\s*=\s*True`),
	entry("rx-cmd-004", "runtime-exec", "security", detect.SeverityHigh, detect.BugLogic,
		"Runtime exec with dynamic input is a command injection vector", `Runtime\.getRuntime\(\)\.exec`),

	// Permissive CORS.
	entry("rx-cors-001", "cors-wildcard-header", "security", detect.SeverityHigh, detect.BugLogic,
		"Wildcard CORS origin exposes the API to any site", `(?i)access-control-allow-origin['"]?\s*[,:]\s*['"]\*`),
	entry("rx-cors-002", "cors-wildcard-config", "security", detect.SeverityHigh, detect.BugLogic,
		"Wildcard CORS origin exposes the API to any site", `(?i)\borigin\s*:\s*(['"]\*['"]|true)`),

	// Leftover debug output.
	entry("rx-debug-001", "console-log", "style", detect.SeverityLow, detect.BugLinting,
		"Remove console.log before committing", `console\.(log|debug)\s*\(`),
	entry("rx-debug-002", "debugger-statement", "style", detect.SeverityMedium, detect.BugLinting,
		"debugger statements must not ship to production", `^\s*debugger\b`),
	entry("rx-debug-003", "print-call", "style", detect.SeverityLow, detect.BugLinting,
		"Use the logging module instead of print", `^\s*print\s*\(`),
	entry("rx-debug-004", "system-out-println", "style", detect.SeverityLow, detect.BugLinting,
		"Use a logger instead of System.out.println", `System\.out\.println`),
	entry("rx-debug-005", "fmt-println", "style", detect.SeverityLow, detect.BugLinting,
		"Use the configured logger instead of fmt.Println", `fmt\.Println\s*\(`),
	entry("rx-debug-006", "alert-call", "style", detect.SeverityLow, detect.BugLinting,
		"Remove alert() debugging before committing", `\balert\s*\(`),

	// Housekeeping.
	entry("rx-todo-001", "todo-marker", "style", detect.SeverityLow, detect.BugLinting,
		"Unresolved TODO/FIXME marker", `(?i)\b(TODO|FIXME|XXX|HACK)\b`),
	entry("rx-catch-001", "empty-catch", "best-practice", detect.SeverityMedium, detect.BugLogic,
		"Empty catch blocks swallow failures silently", `catch\s*(\([^)]*\))?\s*\{\s*\}`),
	entry("rx-catch-002", "except-pass", "best-practice", detect.SeverityMedium, detect.BugLogic,
		"except: pass swallows failures silently", `except[^:]*:\s*pass\b`),
	entry("rx-style-001", "var-declaration", "best-practice", detect.SeverityLow, detect.BugLinting,
		"Prefer let or const over var", `^\s*var\s+\w`),
	entry("rx-style-002", "loose-equality", "best-practice", detect.SeverityLow, detect.BugLinting,
		"Use === instead of == to avoid type coercion surprises", `[^=!<>]==[^=]`),
	entry("rx-import-001", "dynamic-require", "best-practice", detect.SeverityMedium, detect.BugImport,
		"Dynamic require defeats bundler analysis; use a static import", `require\s*\(\s*[^'")\s]`),
	entry("rx-indent-001", "mixed-indentation", "style", detect.SeverityLow, detect.BugIndentation,
		"Mixed tab and space indentation", `^(\t+ +| +\t+)`),
	entry("rx-net-001", "plain-http-url", "security", detect.SeverityLow, detect.BugLogic,
		"Unencrypted http:// URL", `['"]http://`),
	entry("rx-jwt-001", "jwt-alg-none", "security", detect.SeverityCritical, detect.BugLogic,
		"JWT alg none disables signature verification", `(?i)alg['"]?\s*[:=]\s*['"]none['"]`),
}

// CatalogSize reports how many patterns are live, for startup logging.
func CatalogSize() int { return len(catalog) }

// suppressionMarkers silence a finding when present on the match's line or
// the line immediately above it, mirroring the AST engine.
var suppressionMarkers = []string{"codeguard-ignore", "noqa", "eslint-disable", "@suppress"}

// Scan runs every catalog pattern over each line of source. At most one
// finding per (pattern, line) is emitted.
func Scan(source []byte) []detect.Violation {
	lines := strings.Split(string(source), "\n")

	var out []detect.Violation
	for i, line := range lines {
		if suppressed(lines, i) {
			continue
		}
		for _, p := range catalog {
			loc := p.re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			out = append(out, detect.Violation{
				RuleID:    p.id,
				RuleName:  p.name,
				Category:  p.category,
				Severity:  p.severity,
				Message:   p.message,
				Line:      i + 1,
				Column:    loc[0] + 1,
				EndLine:   i + 1,
				EndColumn: loc[1] + 1,
				Snippet:   truncate(line[loc[0]:loc[1]], maxSnippetLen),
				LineText:  strings.TrimSpace(line),
				Engine:    "regex",
				Kind:      p.kind,
			})
		}
	}
	return out
}

// suppressed reports whether the 0-based line idx or its predecessor carries
// a suppression marker.
func suppressed(lines []string, idx int) bool {
	for _, i := range []int{idx, idx - 1} {
		if i < 0 || i >= len(lines) {
			continue
		}
		for _, marker := range suppressionMarkers {
			if strings.Contains(lines[i], marker) {
				return true
			}
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
