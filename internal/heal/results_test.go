package heal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStore_PutGeneratesID(t *testing.T) {
	store := NewResultStore()

	id := store.Put("", &Result{Repo: "acme/widget"})
	require.NotEmpty(t, id)

	stored, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "acme/widget", stored.Result.Repo)
	assert.Equal(t, id, stored.ID)
}

func TestResultStore_PutOverwritesByID(t *testing.T) {
	store := NewResultStore()

	store.Put("fixed-id", &Result{Repo: "acme/first"})
	store.Put("fixed-id", &Result{Repo: "acme/second"})

	stored, ok := store.Get("fixed-id")
	require.True(t, ok)
	assert.Equal(t, "acme/second", stored.Result.Repo)
	assert.Len(t, store.List(), 1)
}

func TestResultStore_GetMissing(t *testing.T) {
	store := NewResultStore()
	_, ok := store.Get("nope")
	assert.False(t, ok)
}

func TestResultStore_ListNewestFirst(t *testing.T) {
	store := NewResultStore()
	store.Put("a", &Result{Repo: "acme/a"})
	store.Put("b", &Result{Repo: "acme/b"})
	store.Put("c", &Result{Repo: "acme/c"})

	list := store.List()
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i-1].CompletedAt.Before(list[i].CompletedAt),
			"results must be ordered newest first")
	}
}
