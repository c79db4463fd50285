// Package rules loads the per-language rule catalog embedded at build time
// and serves filtered rule lookups to the AST engine.
package rules

import (
	"embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/codeguardhq/codeguard/internal/detect/grammar"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// Rule is one catalog entry. Query is tree-sitter query source.
type Rule struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Severity string `yaml:"severity"`
	Message  string `yaml:"message"`
	Query    string `yaml:"query"`
}

// Registry holds the loaded catalog. Rules disabled by Validate are excluded
// from Queries results but still resolvable by id.
type Registry struct {
	mu       sync.RWMutex
	byLang   map[grammar.Language][]Rule
	byID     map[string]Rule
	disabled map[string]bool
}

// Load parses every embedded catalog file. The file's base name is the
// language id; tsx rules are served as the union of ts and tsx entries.
func Load() (*Registry, error) {
	entries, err := catalogFS.ReadDir("catalog")
	if err != nil {
		return nil, fmt.Errorf("reading embedded catalog: %w", err)
	}

	r := &Registry{
		byLang:   make(map[grammar.Language][]Rule),
		byID:     make(map[string]Rule),
		disabled: make(map[string]bool),
	}

	for _, entry := range entries {
		name := entry.Name()
		langID := strings.TrimSuffix(name, filepath.Ext(name))
		lang, ok := grammar.Normalize(langID)
		if !ok {
			return nil, fmt.Errorf("catalog file %q does not name a supported language", name)
		}

		data, err := catalogFS.ReadFile("catalog/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading catalog %s: %w", name, err)
		}
		var list []Rule
		if err := yaml.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parsing catalog %s: %w", name, err)
		}

		for _, rule := range list {
			if rule.ID == "" || rule.Query == "" {
				return nil, fmt.Errorf("catalog %s: rule missing id or query", name)
			}
			if _, dup := r.byID[rule.ID]; dup {
				return nil, fmt.Errorf("duplicate rule id %q", rule.ID)
			}
			r.byID[rule.ID] = rule
			r.byLang[lang] = append(r.byLang[lang], rule)
		}
	}

	// tsx scans run every ts rule plus the tsx-only extras.
	merged := append([]Rule{}, r.byLang[grammar.LangTS]...)
	merged = append(merged, r.byLang[grammar.LangTSX]...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	r.byLang[grammar.LangTSX] = merged

	return r, nil
}

// Queries returns the live rules for lang, optionally filtered by category
// and rule id. Empty filters match everything.
func (r *Registry) Queries(lang grammar.Language, categories, ids []string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	catSet := toSet(categories)
	idSet := toSet(ids)

	var out []Rule
	for _, rule := range r.byLang[lang] {
		if r.disabled[rule.ID] {
			continue
		}
		if len(catSet) > 0 && !catSet[rule.Category] {
			continue
		}
		if len(idSet) > 0 && !idSet[rule.ID] {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// RuleByID resolves a rule regardless of its disabled state.
func (r *Registry) RuleByID(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byID[id]
	return rule, ok
}

// Languages returns every language that has at least one catalog entry.
func (r *Registry) Languages() []grammar.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]grammar.Language, 0, len(r.byLang))
	for lang := range r.byLang {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// Compiler compiles a query for a language, reporting whether it is valid.
type Compiler func(lang grammar.Language, query string) error

// Validate compiles every rule once and disables the ones that fail, so a
// bad query can never take down a live scan. Returns one error per bad rule.
// The compile callback runs without the registry lock held, so it may call
// back into the registry.
func (r *Registry) Validate(compile Compiler) []error {
	type candidate struct {
		lang grammar.Language
		rule Rule
	}

	r.mu.RLock()
	var todo []candidate
	for lang, list := range r.byLang {
		for _, rule := range list {
			if r.disabled[rule.ID] {
				continue
			}
			todo = append(todo, candidate{lang: lang, rule: rule})
		}
	}
	r.mu.RUnlock()

	var errs []error
	bad := make(map[string]bool)
	for _, c := range todo {
		if bad[c.rule.ID] {
			continue
		}
		if err := compile(c.lang, c.rule.Query); err != nil {
			bad[c.rule.ID] = true
			errs = append(errs, fmt.Errorf("rule %s (%s): %w", c.rule.ID, c.lang, err))
			slog.Warn("disabling rule with invalid query", "rule", c.rule.ID, "language", c.lang, "error", err)
		}
	}

	if len(bad) > 0 {
		r.mu.Lock()
		for id := range bad {
			r.disabled[id] = true
		}
		r.mu.Unlock()
	}
	return errs
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
