package config

import "time"

// Config is the top-level codeguard configuration.
type Config struct {
	Server        ServerConfig        `json:"server"`
	GitHub        GitHubConfig        `json:"github"`
	LLM           LLMConfig           `json:"llm"`
	Sandbox       SandboxConfig       `json:"sandbox"`
	Heal          HealConfig          `json:"heal"`
	Database      DatabaseConfig      `json:"database"`
	Notifications NotificationsConfig `json:"notifications"`
	RateLimit     RateLimitConfig     `json:"rate_limit"`
}

// ServerConfig holds HTTP service settings.
type ServerConfig struct {
	Port         int    `json:"port"`
	Env          string `json:"env"`           // "development" relaxes webhook signature checks
	DashboardURL string `json:"dashboard_url"` // base URL for commit status target links
}

// IsDevelopment reports whether the service runs in development mode.
func (s ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

// GitHubConfig holds App credentials and the webhook secret.
type GitHubConfig struct {
	AppID         int64  `json:"app_id"`
	PrivateKey    string `json:"private_key"` // PEM text, or a path when it starts with "/" or "./"
	WebhookSecret string `json:"webhook_secret"`
	Token         string `json:"token"` // fallback personal token when App creds are absent
}

// LLMConfig controls the Gemini-backed fix generator.
type LLMConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Timeout string `json:"timeout"`
}

// ParseTimeout returns the LLM call timeout as a time.Duration.
func (l LLMConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// SandboxConfig holds container isolation settings for the test runner.
type SandboxConfig struct {
	Image        string `json:"image"`
	DockerBinary string `json:"docker_binary"`
	MemoryMB     int    `json:"memory_mb"`
	CPUs         int    `json:"cpus"`
	PidsLimit    int    `json:"pids_limit"`
	Timeout      string `json:"timeout"`
	AllowNetwork bool   `json:"allow_network"` // needed for the dependency-install phase
}

// ParseTimeout returns the sandbox wall-clock limit as a time.Duration.
func (s SandboxConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 180 * time.Second
	}
	return d
}

// HealConfig bounds the autonomous healing loop.
type HealConfig struct {
	MaxRetries   int    `json:"max_retries"`
	CloneTimeout string `json:"clone_timeout"`
	CIWait       string `json:"ci_wait"`
	CIPoll       string `json:"ci_poll"`
	RetryPause   string `json:"retry_pause"`
	WorkspaceDir string `json:"workspace_dir"`
	TotalTimeout string `json:"total_timeout"`
}

// ParseCloneTimeout returns the clone timeout as a time.Duration.
func (h HealConfig) ParseCloneTimeout() time.Duration {
	d, err := time.ParseDuration(h.CloneTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// ParseCIWait returns the per-commit CI wait bound.
func (h HealConfig) ParseCIWait() time.Duration {
	d, err := time.ParseDuration(h.CIWait)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// ParseCIPoll returns the CI polling interval.
func (h HealConfig) ParseCIPoll() time.Duration {
	d, err := time.ParseDuration(h.CIPoll)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// ParseRetryPause returns the pause between fix retries.
func (h HealConfig) ParseRetryPause() time.Duration {
	d, err := time.ParseDuration(h.RetryPause)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ParseTotalTimeout returns the whole-heal deadline.
func (h HealConfig) ParseTotalTimeout() time.Duration {
	d, err := time.ParseDuration(h.TotalTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// DatabaseConfig points at the relational store.
type DatabaseConfig struct {
	URL string `json:"url"`
}

// NotificationsConfig holds notification settings.
type NotificationsConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
}

// RateLimitConfig bounds the public API surface per client IP.
type RateLimitConfig struct {
	Window      string `json:"window"`
	MaxRequests int    `json:"max_requests"`
}

// ParseWindow returns the sliding window as a time.Duration.
func (r RateLimitConfig) ParseWindow() time.Duration {
	d, err := time.ParseDuration(r.Window)
	if err != nil {
		return time.Minute
	}
	return d
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: 4180,
			Env:  "production",
		},
		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "60s",
		},
		Sandbox: SandboxConfig{
			Image:        "codeguard/test-runner:latest",
			DockerBinary: "docker",
			MemoryMB:     512,
			CPUs:         1,
			PidsLimit:    256,
			Timeout:      "180s",
			AllowNetwork: true,
		},
		Heal: HealConfig{
			MaxRetries:   5,
			CloneTimeout: "120s",
			CIWait:       "300s",
			CIPoll:       "15s",
			RetryPause:   "5s",
			TotalTimeout: "5m",
		},
		Database: DatabaseConfig{
			URL: "codeguard.db",
		},
		RateLimit: RateLimitConfig{
			Window:      "1m",
			MaxRequests: 60,
		},
	}
}
