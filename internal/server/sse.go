package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/codeguardhq/codeguard/internal/heal"
)

// sseWriter serialises events onto one text/event-stream connection.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, true
}

// send writes one "data: <json>\n\n" message and flushes.
func (s *sseWriter) send(event heal.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("could not marshal SSE event", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
		slog.Debug("SSE write failed, client likely gone", "error", err)
		return
	}
	s.flusher.Flush()
}

// handleHeal accepts a heal request and streams progress until a result or
// error event closes the exchange. Closing the connection cancels the heal.
func (s *Server) handleHeal(w http.ResponseWriter, r *http.Request) {
	var req heal.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	result, err := s.healer.Heal(r.Context(), req, stream.send)
	if err != nil {
		stream.send(heal.Event{
			Stage:     "error",
			Timestamp: time.Now(),
			Message:   err.Error(),
			Results:   result,
		})
		return
	}
	stream.send(heal.Event{
		Stage:     "result",
		Timestamp: time.Now(),
		Results:   result,
	})
}

// handleHealReadiness reports the gateway is accepting heal requests.
func (s *Server) handleHealReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "codeguard-heal",
		"status":  "ready",
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleGetHealResults returns one stored result by id, or all of them.
func (s *Server) handleGetHealResults(w http.ResponseWriter, r *http.Request) {
	results := s.healer.Results()
	if id := r.URL.Query().Get("id"); id != "" {
		stored, ok := results.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "no result with id "+id)
			return
		}
		writeJSON(w, http.StatusOK, stored)
		return
	}
	writeJSON(w, http.StatusOK, results.List())
}

// handlePostHealResults stores a result pushed by a client, returning the id
// it is retrievable under.
func (s *Server) handlePostHealResults(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID     string       `json:"id"`
		Result *heal.Result `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Result == nil {
		writeError(w, http.StatusBadRequest, "malformed result payload")
		return
	}
	id := s.healer.Results().Put(payload.ID, payload.Result)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
