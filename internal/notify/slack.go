// Package notify posts summaries to Slack via an incoming webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Slack posts messages to a single incoming webhook. A zero-value URL makes
// every call a logged no-op.
type Slack struct {
	webhookURL string
}

// NewSlack builds a notifier. url may be empty to disable notifications.
func NewSlack(url string) *Slack {
	return &Slack{webhookURL: url}
}

// Enabled reports whether a webhook is configured.
func (s *Slack) Enabled() bool {
	return s.webhookURL != ""
}

// AnalysisCompleted posts a summary of one inline PR analysis.
func (s *Slack) AnalysisCompleted(ctx context.Context, repo string, prNumber, violations int, status string) error {
	if !s.Enabled() {
		return nil
	}

	emoji := ":white_check_mark:"
	if violations > 0 {
		emoji = ":rotating_light:"
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("%s *%s* PR #%d analyzed: %d violation(s), status %s",
			emoji, repo, prNumber, violations, status),
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("posting slack notification: %w", err)
	}
	slog.Debug("posted slack notification", "repo", repo, "pr", prNumber)
	return nil
}

// HealCompleted posts a summary of one heal run.
func (s *Slack) HealCompleted(ctx context.Context, repo, finalStatus string, fixesApplied int, prURL string) error {
	if !s.Enabled() {
		return nil
	}

	text := fmt.Sprintf(":wrench: heal finished for *%s*: %s, %d fix(es) applied", repo, finalStatus, fixesApplied)
	if prURL != "" {
		text += " " + prURL
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		return fmt.Errorf("posting slack notification: %w", err)
	}
	return nil
}
