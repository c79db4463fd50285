// Package server exposes the webhook intake, the inline PR analyzer, and
// the SSE healing gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/codeguardhq/codeguard/internal/config"
	"github.com/codeguardhq/codeguard/internal/detect/regexdetect"
	"github.com/codeguardhq/codeguard/internal/forge/auth"
	"github.com/codeguardhq/codeguard/internal/heal"
	"github.com/codeguardhq/codeguard/internal/notify"
	"github.com/codeguardhq/codeguard/internal/store"
)

// inlineAnalysisTimeout bounds one webhook-triggered analysis.
const inlineAnalysisTimeout = 60 * time.Second

// Server holds the dependencies shared by all handlers.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	broker  *auth.Broker
	healer  *heal.Service
	notify  *notify.Slack
	limiter *RateLimiter

	startTime time.Time

	// wg tracks in-flight webhook analyses for draining on shutdown.
	wg sync.WaitGroup
}

// NewServer wires a Server.
func NewServer(cfg *config.Config, st *store.Store, broker *auth.Broker, healer *heal.Service, slack *notify.Slack) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		broker:    broker,
		healer:    healer,
		notify:    slack,
		limiter:   NewRateLimiter(cfg.RateLimit.ParseWindow(), cfg.RateLimit.MaxRequests),
		startTime: time.Now(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: the SSE stream must stay open until the heal
		// finishes.
		IdleTimeout: 120 * time.Second,
	}

	gcDone := make(chan struct{})
	go s.limiter.RunGC(gcDone)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		close(gcDone)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("starting HTTP server", "addr", addr,
		"env", s.cfg.Server.Env, "regex_rules", regexdetect.CatalogSize())
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	// Drain webhook analyses started before shutdown.
	s.wg.Wait()
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /status", s.handleStatus)

	limited := func(h http.HandlerFunc) http.Handler { return s.limiter.Middleware(h) }
	mux.Handle("POST /heal", limited(s.handleHeal))
	mux.Handle("GET /heal", limited(s.handleHealReadiness))
	mux.Handle("GET /heal/results", limited(s.handleGetHealResults))
	mux.Handle("POST /heal/results", limited(s.handlePostHealResults))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
