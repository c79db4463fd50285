package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeguardhq/codeguard/internal/config"
	"github.com/codeguardhq/codeguard/internal/forge/auth"
	"github.com/codeguardhq/codeguard/internal/heal"
	"github.com/codeguardhq/codeguard/internal/notify"
	"github.com/codeguardhq/codeguard/internal/store"
)

const testWebhookSecret = "topsecret"

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, http.Handler) {
	t.Helper()

	defaults := config.DefaultConfig()
	cfg := &defaults
	cfg.GitHub.WebhookSecret = testWebhookSecret
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "codeguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	broker, err := auth.NewBroker(0, "", "test-token")
	require.NoError(t, err)

	healer := heal.NewService(cfg, broker, nil, nil, nil, heal.NewResultStore())
	srv := NewServer(cfg, st, broker, healer, notify.NewSlack(""))

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	return srv, mux
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(handler http.Handler, event string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "d-1")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_InvalidSignature(t *testing.T) {
	_, handler := newTestServer(t, nil)

	body := []byte(`{"zen":"speak like a human"}`)
	rec := postWebhook(handler, "ping", body, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(handler, "ping", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unsigned requests are rejected outside development")
}

func TestWebhook_DevModeAllowsUnsigned(t *testing.T) {
	_, handler := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Env = "development"
		cfg.GitHub.WebhookSecret = ""
	})

	rec := postWebhook(handler, "ping", []byte(`{}`), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_Ping(t *testing.T) {
	_, handler := newTestServer(t, nil)

	body := []byte(`{"zen":"non-blocking is better than blocking"}`)
	rec := postWebhook(handler, "ping", body, sign(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["pong"])
}

func TestWebhook_UnknownEventIgnored(t *testing.T) {
	_, handler := newTestServer(t, nil)

	body := []byte(`{}`)
	rec := postWebhook(handler, "workflow_dispatch", body, sign(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ignored"])
}

func TestWebhook_PullRequestIgnoredAction(t *testing.T) {
	_, handler := newTestServer(t, nil)

	body := []byte(`{
		"action": "closed",
		"number": 12,
		"repository": {"id": 100, "name": "widget", "owner": {"login": "acme"}},
		"pull_request": {"head": {"sha": "deadbeef"}}
	}`)
	rec := postWebhook(handler, "pull_request", body, sign(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ignored"])
	assert.Equal(t, "closed", resp["action"])
}

func TestWebhook_PullRequestMissingHeadSHA(t *testing.T) {
	_, handler := newTestServer(t, nil)

	body := []byte(`{
		"action": "opened",
		"number": 12,
		"repository": {"id": 100, "name": "widget", "owner": {"login": "acme"}}
	}`)
	rec := postWebhook(handler, "pull_request", body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_InstallationCreatedIdempotent(t *testing.T) {
	srv, handler := newTestServer(t, nil)

	body := []byte(`{
		"action": "created",
		"installation": {"id": 7, "account": {"login": "acme"}},
		"repositories": [
			{"id": 100, "full_name": "acme/widget"},
			{"id": 101, "full_name": "acme/gadget"}
		]
	}`)

	rec := postWebhook(handler, "installation", body, sign(body))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["new_projects"])

	// Redelivery creates nothing new.
	rec = postWebhook(handler, "installation", body, sign(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(0), resp["new_projects"])

	n, err := srv.store.CountProjects(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWebhook_InstallationRemoved(t *testing.T) {
	_, handler := newTestServer(t, nil)

	body := []byte(`{"action": "deleted", "installation": {"id": 7}}`)
	rec := postWebhook(handler, "installation", body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	_, handler := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestHealReadiness(t *testing.T) {
	_, handler := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/heal", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["status"])
}

func TestHandleHeal_RejectsBadRequests(t *testing.T) {
	_, handler := newTestServer(t, nil)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/heal", bytes.NewReader([]byte(body)))
		req.RemoteAddr = "192.0.2.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, post("{not json").Code)
	assert.Equal(t, http.StatusBadRequest, post(`{}`).Code, "missing fields fail validation")
	assert.Equal(t, http.StatusBadRequest, post(`{
		"repo_url": "https://gitlab.com/acme/widget",
		"team_name": "Platform", "leader_name": "Alice"
	}`).Code, "non-GitHub repos are rejected")
}

func TestHealResults_RoundTrip(t *testing.T) {
	_, handler := newTestServer(t, nil)

	payload := []byte(`{"result": {"repo": "acme/widget", "final_ci_status": "PASSED", "retry_count": 1}}`)
	req := httptest.NewRequest(http.MethodPost, "/heal/results", bytes.NewReader(payload))
	req.RemoteAddr = "192.0.2.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var posted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	require.NotEmpty(t, posted["id"])

	req = httptest.NewRequest(http.MethodGet, "/heal/results?id="+posted["id"], nil)
	req.RemoteAddr = "192.0.2.1:5000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stored heal.StoredResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	require.NotNil(t, stored.Result)
	assert.Equal(t, "acme/widget", stored.Result.Repo)
	assert.Equal(t, "PASSED", stored.Result.FinalCIStatus)
}

func TestHealResults_Missing(t *testing.T) {
	_, handler := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/heal/results?id=nope", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealResults_MalformedPost(t *testing.T) {
	_, handler := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/heal/results", bytes.NewReader([]byte(`{"id": "x"}`)))
	req.RemoteAddr = "192.0.2.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
