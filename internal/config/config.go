package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/tidwall/jsonc"
)

// Load reads and merges configuration from user-level and repo-level JSONC files.
// Resolution order: user config (~/.config/codeguard/codeguard.jsonc) → deep-merged
// with repo config (.codeguard/codeguard.jsonc) → environment variable overrides.
// An explicit path, when non-empty, replaces both file layers.
func Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	if explicitPath != "" {
		m, err := loadJSONC(explicitPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", explicitPath, err)
		}
		if err := mergeIntoConfig(&cfg, m); err != nil {
			return nil, fmt.Errorf("merging config %s: %w", explicitPath, err)
		}
		applyEnvOverrides(&cfg)
		return &cfg, nil
	}

	// Load user-level config
	userDir, err := os.UserConfigDir()
	if err == nil {
		userPath := filepath.Join(userDir, "codeguard", "codeguard.jsonc")
		if userMap, err := loadJSONC(userPath); err == nil {
			if err := mergeIntoConfig(&cfg, userMap); err != nil {
				return nil, fmt.Errorf("merging user config: %w", err)
			}
		}
	}

	// Load repo-level config
	repoRoot := findRepoRoot()
	if repoRoot != "" {
		repoPath := filepath.Join(repoRoot, ".codeguard", "codeguard.jsonc")
		if repoMap, err := loadJSONC(repoPath); err == nil {
			if err := mergeIntoConfig(&cfg, repoMap); err != nil {
				return nil, fmt.Errorf("merging repo config: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map over it,
// then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	// Deep merge: src overrides dst
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// findRepoRoot finds the git repository root via git rev-parse.
func findRepoRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("GITHUB_APP_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.GitHub.AppID = id
		}
	}
	if v := os.Getenv("GITHUB_APP_PRIVATE_KEY"); v != "" {
		cfg.GitHub.PrivateKey = v
	}
	if v := os.Getenv("GITHUB_WEBHOOK_SECRET"); v != "" {
		cfg.GitHub.WebhookSecret = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notifications.SlackWebhookURL = v
	}
	if v := os.Getenv("CODEGUARD_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("DASHBOARD_URL"); v != "" {
		cfg.Server.DashboardURL = v
	}
}

// RepoRoot returns the detected git repository root, or empty string if not in a repo.
func RepoRoot() string {
	return findRepoRoot()
}
