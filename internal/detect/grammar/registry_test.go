package grammar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     Language
		ok       bool
	}{
		{"app.js", LangJS, true},
		{"component.jsx", LangJS, true},
		{"tool.cjs", LangJS, true},
		{"mod.mjs", LangJS, true},
		{"service.ts", LangTS, true},
		{"view.tsx", LangTSX, true},
		{"script.py", LangPython, true},
		{"Main.java", LangJava, true},
		{"main.go", LangGo, true},
		{"core.c", LangC, true},
		{"core.h", LangC, true},
		{"APP.JS", LangJS, true},
		{"README.md", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		lang, ok := FromFilename(tt.filename)
		assert.Equal(t, tt.ok, ok, "FromFilename(%q)", tt.filename)
		if tt.ok {
			assert.Equal(t, tt.want, lang, "FromFilename(%q)", tt.filename)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		id   string
		want Language
		ok   bool
	}{
		{"js", LangJS, true},
		{"javascript", LangJS, true},
		{"typescript", LangTS, true},
		{"py", LangPython, true},
		{"python", LangPython, true},
		{"golang", LangGo, true},
		{"go", LangGo, true},
		{" Java ", LangJava, true},
		{"rust", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		lang, ok := Normalize(tt.id)
		assert.Equal(t, tt.ok, ok, "Normalize(%q)", tt.id)
		if tt.ok {
			assert.Equal(t, tt.want, lang, "Normalize(%q)", tt.id)
		}
	}
}

func TestGrammarMemoised(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	first, err := r.Grammar(LangJS)
	require.NoError(t, err)
	second, err := r.Grammar(LangJS)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = r.Grammar(Language("cobol"))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	tree, err := r.Parse(context.Background(), []byte("const x = 1;\n"), LangJS)
	require.NoError(t, err)
	defer tree.Close()
	assert.False(t, tree.RootNode().HasError())
}
