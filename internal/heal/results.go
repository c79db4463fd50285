package heal

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// StoredResult wraps a Result with its retrieval id and completion time.
type StoredResult struct {
	ID          string    `json:"id"`
	CompletedAt time.Time `json:"completed_at"`
	Result      *Result   `json:"result"`
}

// ResultStore keeps completed heal results in memory, keyed by id.
// Last-writer-wins on id.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]StoredResult
}

// NewResultStore returns an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]StoredResult)}
}

// Put stores res under id; a fresh id is generated when empty. Returns the
// id used.
func (s *ResultStore) Put(id string, res *Result) string {
	if id == "" {
		id = newResultID()
	}
	s.mu.Lock()
	s.results[id] = StoredResult{ID: id, CompletedAt: time.Now(), Result: res}
	s.mu.Unlock()
	return id
}

// Get retrieves a result by id.
func (s *ResultStore) Get(id string) (StoredResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	return r, ok
}

// List returns every stored result, newest first.
func (s *ResultStore) List() []StoredResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out
}

func newResultID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
