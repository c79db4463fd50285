package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/codeguardhq/codeguard/internal/detect/astengine"
	"github.com/codeguardhq/codeguard/internal/detect/grammar"
	"github.com/codeguardhq/codeguard/internal/detect/rules"
	"github.com/codeguardhq/codeguard/internal/fixagent"
	"github.com/codeguardhq/codeguard/internal/forge/auth"
	"github.com/codeguardhq/codeguard/internal/heal"
	"github.com/codeguardhq/codeguard/internal/notify"
	"github.com/codeguardhq/codeguard/internal/sandbox"
	"github.com/codeguardhq/codeguard/internal/server"
	"github.com/codeguardhq/codeguard/internal/store"
	"github.com/codeguardhq/codeguard/internal/testrun"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and healing HTTP service",
	Long:  `Start the HTTP service that receives GitHub webhooks, analyzes pull requests inline, and exposes the healing API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		broker, err := auth.NewBroker(cfg.GitHub.AppID, cfg.GitHub.PrivateKey, cfg.GitHub.Token)
		if err != nil {
			return fmt.Errorf("creating credential broker: %w", err)
		}

		engine, err := newDetectionEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		var llm fixagent.Proposer
		if cfg.LLM.APIKey != "" {
			gemini, err := fixagent.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.ParseTimeout())
			if err != nil {
				return fmt.Errorf("creating LLM client: %w", err)
			}
			llm = gemini
		} else {
			slog.Warn("no LLM API key configured, fixes will be rule-based only")
		}

		runner := testrun.NewRunner(sandbox.New(cfg.Sandbox))
		healer := heal.NewService(cfg, broker, runner, analyzer.New(engine), llm, heal.NewResultStore())
		slack := notify.NewSlack(cfg.Notifications.SlackWebhookURL)

		return server.NewServer(cfg, st, broker, healer, slack).Run(ctx)
	},
}

// newDetectionEngine loads the rule catalog, compiles every query against its
// grammar, and disables the ones that fail.
func newDetectionEngine() (*astengine.Engine, error) {
	catalog, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("loading rule catalog: %w", err)
	}
	engine := astengine.New(grammar.NewRegistry(), catalog)
	for _, verr := range engine.ValidateRules() {
		slog.Warn("rule disabled", "error", verr)
	}
	return engine, nil
}
