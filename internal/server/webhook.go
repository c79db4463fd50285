package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v82/github"
)

// maxWebhookBody caps an intake payload.
const maxWebhookBody = 5 << 20

// inlineActions are the pull_request actions that trigger inline analysis.
var inlineActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// handleWebhook verifies the signature and routes the event.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	slog.Info("webhook received", "event", event, "delivery", delivery)

	switch event {
	case "pull_request":
		s.routePullRequest(r.Context(), w, body, event)
	case "installation", "installation_repositories":
		s.routeInstallation(r.Context(), w, body, event)
	case "ping":
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "event": event, "pong": true})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "event": event, "ignored": true})
	}
}

// verifySignature checks the HMAC-SHA256 signature with a constant-time
// compare. Unsigned requests pass only in development mode.
func (s *Server) verifySignature(body []byte, signature string) bool {
	secret := s.cfg.GitHub.WebhookSecret
	if signature == "" || secret == "" {
		return s.cfg.Server.IsDevelopment()
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Server) routePullRequest(ctx context.Context, w http.ResponseWriter, body []byte, event string) {
	var payload gh.PullRequestEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed pull_request payload")
		return
	}

	action := payload.GetAction()
	if !inlineActions[action] {
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "event": event, "action": action, "ignored": true})
		return
	}

	repo := payload.GetRepo()
	owner := repo.GetOwner().GetLogin()
	name := repo.GetName()
	prNumber := payload.GetNumber()
	headSHA := payload.GetPullRequest().GetHead().GetSHA()
	installationID := payload.GetInstallation().GetID()

	if owner == "" || name == "" || headSHA == "" {
		writeError(w, http.StatusBadRequest, "pull_request payload missing repository or head sha")
		return
	}

	projectID, _, err := s.store.UpsertProject(ctx, repo.GetID(), owner, name, installationID)
	if err != nil {
		slog.Error("project upsert failed", "repo", owner+"/"+name, "error", err)
		writeError(w, http.StatusInternalServerError, "could not record project")
		return
	}
	analysisID, err := s.store.CreateAnalysis(ctx, projectID, headSHA, prNumber)
	if err != nil {
		slog.Error("analysis record failed", "repo", owner+"/"+name, "error", err)
		writeError(w, http.StatusInternalServerError, "could not record analysis")
		return
	}

	// The intake responds immediately; analysis runs on its own context.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		actx, cancel := context.WithTimeout(context.Background(), inlineAnalysisTimeout)
		defer cancel()
		s.runInlineAnalysis(actx, analysisID, installationID, owner, name, prNumber, headSHA)
	}()

	writeJSON(w, http.StatusOK, map[string]any{
		"received": true, "event": event, "action": action, "analysis_id": analysisID,
	})
}

// routeInstallation upserts the installation and auto-creates projects with
// the default rule set, idempotent on repo id. Removals are only logged.
func (s *Server) routeInstallation(ctx context.Context, w http.ResponseWriter, body []byte, event string) {
	var payload struct {
		Action       string           `json:"action"`
		Installation *gh.Installation `json:"installation"`
		Repositories []*gh.Repository `json:"repositories"`
		Added        []*gh.Repository `json:"repositories_added"`
		Removed      []*gh.Repository `json:"repositories_removed"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed installation payload")
		return
	}

	action := payload.Action
	instID := payload.Installation.GetID()

	switch action {
	case "created", "added":
		if err := s.store.UpsertInstallation(ctx, instID, payload.Installation.GetAccount().GetLogin()); err != nil {
			slog.Error("installation upsert failed", "installation", instID, "error", err)
			writeError(w, http.StatusInternalServerError, "could not record installation")
			return
		}
		repos := payload.Repositories
		if len(payload.Added) > 0 {
			repos = payload.Added
		}
		createdCount := 0
		for _, repo := range repos {
			owner, name := splitFullName(repo.GetFullName())
			projectID, created, err := s.store.UpsertProject(ctx, repo.GetID(), owner, name, instID)
			if err != nil {
				slog.Error("project upsert failed", "repo", repo.GetFullName(), "error", err)
				continue
			}
			if created {
				createdCount++
				if err := s.store.SeedDefaultRules(ctx, projectID); err != nil {
					slog.Error("default rule seeding failed", "repo", repo.GetFullName(), "error", err)
				}
			}
		}
		slog.Info("installation registered",
			"installation", instID, "repos", len(repos), "new_projects", createdCount)
		writeJSON(w, http.StatusOK, map[string]any{
			"received": true, "event": event, "action": action, "new_projects": createdCount,
		})

	case "removed", "deleted":
		slog.Info("installation removed", "installation", instID, "action", action)
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "event": event, "action": action})

	default:
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "event": event, "action": action, "ignored": true})
	}
}

func splitFullName(fullName string) (owner, name string) {
	owner, name, found := strings.Cut(fullName, "/")
	if !found {
		return "", fullName
	}
	return owner, name
}
