package store

// defaultRules is the seed rule set for newly created projects. These mirror
// the highest-signal entries of the built-in detection catalogs; users can
// toggle them per project afterwards.
var defaultRules = []Rule{
	{RuleID: "rx-secret-002", Name: "api-key-literal", Category: "security", Severity: "critical", Language: "*", Message: "Hardcoded API key; load it from the environment"},
	{RuleID: "rx-secret-003", Name: "password-literal", Category: "security", Severity: "critical", Language: "*", Message: "Hardcoded password; load it from the environment"},
	{RuleID: "rx-crypto-001", Name: "weak-hash-md5", Category: "security", Severity: "high", Language: "*", Message: "MD5 is cryptographically broken; use SHA-256 or better"},
	{RuleID: "rx-eval-001", Name: "eval-call", Category: "security", Severity: "critical", Language: "*", Message: "eval() executes arbitrary code"},
	{RuleID: "rx-sqli-001", Name: "sql-string-concat", Category: "security", Severity: "critical", Language: "*", Message: "SQL built by string concatenation; use parameterized queries"},
	{RuleID: "rx-xss-001", Name: "inner-html-assign", Category: "security", Severity: "high", Language: "*", Message: "innerHTML assignment is an XSS sink"},
	{RuleID: "rx-ssl-001", Name: "reject-unauthorized-off", Category: "security", Severity: "critical", Language: "*", Message: "TLS certificate verification disabled"},
	{RuleID: "rx-cors-001", Name: "cors-wildcard-header", Category: "security", Severity: "high", Language: "*", Message: "Wildcard CORS origin exposes the API to any site"},
	{RuleID: "rx-debug-001", Name: "console-log", Category: "style", Severity: "low", Language: "js", Message: "Remove console.log before committing"},
	{RuleID: "rx-style-001", Name: "var-declaration", Category: "best-practice", Severity: "low", Language: "js", Message: "Prefer let or const over var"},
}
