package forge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := &Error{Kind: KindNotFound, Op: "GetRef", StatusCode: 404, Err: errors.New("no ref")}
	assert.Equal(t, "GetRef: not_found (HTTP 404): no ref", e.Error())

	transport := &Error{Kind: KindUpstream, Op: "ListPRFiles", Err: errors.New("connection reset")}
	assert.Equal(t, "ListPRFiles: upstream: connection reset", transport.Error())
}

func TestKindPredicates(t *testing.T) {
	notFound := &Error{Kind: KindNotFound, Op: "GetFileContent", StatusCode: 404, Err: errors.New("gone")}

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsConflict(notFound))
	assert.False(t, IsUnauthorized(notFound))

	// Predicates see through wrapping.
	wrapped := fmt.Errorf("fetching base branch: %w", notFound)
	assert.True(t, IsNotFound(wrapped))

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.True(t, IsConflict(&Error{Kind: KindConflict}))
	assert.True(t, IsUnauthorized(&Error{Kind: KindUnauthorized}))
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindUpstream:     "upstream",
		KindValidation:   "validation",
		KindUnauthorized: "unauthorized",
		KindForbidden:    "forbidden",
		KindNotFound:     "not_found",
		KindConflict:     "conflict",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
