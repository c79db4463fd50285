// Package grammar lazily loads tree-sitter grammars for the supported
// languages and maps file extensions onto language ids.
package grammar

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language identifies a supported grammar.
type Language string

const (
	LangJS     Language = "js"
	LangTS     Language = "ts"
	LangTSX    Language = "tsx"
	LangPython Language = "python"
	LangJava   Language = "java"
	LangGo     Language = "go"
	LangC      Language = "c"
)

// extensions maps a file extension (without dot) to its language.
var extensions = map[string]Language{
	"js":   LangJS,
	"jsx":  LangJS,
	"cjs":  LangJS,
	"mjs":  LangJS,
	"ts":   LangTS,
	"tsx":  LangTSX,
	"py":   LangPython,
	"java": LangJava,
	"go":   LangGo,
	"c":    LangC,
	"h":    LangC,
}

// aliases maps alternate language ids onto canonical ones.
var aliases = map[string]Language{
	"javascript": LangJS,
	"jsx":        LangJS,
	"cjs":        LangJS,
	"typescript": LangTS,
	"py":         LangPython,
	"golang":     LangGo,
}

// Registry memoises grammar and parser instances per language.
type Registry struct {
	mu      sync.Mutex
	langs   map[Language]*sitter.Language
	parsers map[Language]*sitter.Parser
}

// NewRegistry returns an empty registry; grammars load on first use.
func NewRegistry() *Registry {
	return &Registry{
		langs:   make(map[Language]*sitter.Language),
		parsers: make(map[Language]*sitter.Parser),
	}
}

// FromFilename resolves a language from a file name's extension.
func FromFilename(filename string) (Language, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	lang, ok := extensions[ext]
	return lang, ok
}

// Normalize canonicalises a language id, accepting common aliases.
func Normalize(id string) (Language, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if alias, ok := aliases[id]; ok {
		return alias, true
	}
	switch Language(id) {
	case LangJS, LangTS, LangTSX, LangPython, LangJava, LangGo, LangC:
		return Language(id), true
	}
	return "", false
}

// Grammar returns the memoised tree-sitter language for lang.
func (r *Registry) Grammar(lang Language) (*sitter.Language, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grammarLocked(lang)
}

func (r *Registry) grammarLocked(lang Language) (*sitter.Language, error) {
	if l, ok := r.langs[lang]; ok {
		return l, nil
	}
	var l *sitter.Language
	switch lang {
	case LangJS:
		l = javascript.GetLanguage()
	case LangTS:
		l = typescript.GetLanguage()
	case LangTSX:
		l = tsx.GetLanguage()
	case LangPython:
		l = python.GetLanguage()
	case LangJava:
		l = java.GetLanguage()
	case LangGo:
		l = golang.GetLanguage()
	case LangC:
		l = c.GetLanguage()
	default:
		return nil, fmt.Errorf("unsupported language %q", lang)
	}
	r.langs[lang] = l
	return l, nil
}

// Parse parses source with the grammar for lang. The returned tree must be
// closed by the caller.
func (r *Registry) Parse(ctx context.Context, source []byte, lang Language) (*sitter.Tree, error) {
	r.mu.Lock()
	grammarLang, err := r.grammarLocked(lang)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	parser, ok := r.parsers[lang]
	if !ok {
		parser = sitter.NewParser()
		parser.SetLanguage(grammarLang)
		r.parsers[lang] = parser
	}
	// Parsers are not safe for concurrent use; hold the lock across the parse.
	defer r.mu.Unlock()

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s source: %w", lang, err)
	}
	return tree, nil
}

// Close releases all memoised parsers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for lang, p := range r.parsers {
		p.Close()
		delete(r.parsers, lang)
	}
}
