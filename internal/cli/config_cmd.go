package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/codeguardhq/codeguard/internal/config"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage codeguard configuration",
	Long:  `Show and modify codeguard configuration values.`,
}

var configJSONFlag bool

func init() {
	configShowCmd.Flags().BoolVar(&configJSONFlag, "json", false, "Output raw JSON without formatting")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if cfg == nil {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		}

		// Redact secrets before display.
		redacted := redactConfig(cfg)

		var data []byte
		var err error
		if configJSONFlag {
			data, err = json.Marshal(redacted)
		} else {
			data, err = json.MarshalIndent(redacted, "", "  ")
		}
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// redactConfig returns a copy of the config with secret fields masked.
func redactConfig(cfg *config.Config) *config.Config {
	copy := *cfg

	if copy.GitHub.PrivateKey != "" {
		copy.GitHub.PrivateKey = "***"
	}
	if copy.GitHub.WebhookSecret != "" {
		copy.GitHub.WebhookSecret = "***"
	}
	if copy.GitHub.Token != "" {
		copy.GitHub.Token = "***"
	}
	if copy.LLM.APIKey != "" {
		copy.LLM.APIKey = "***"
	}
	if copy.Notifications.SlackWebhookURL != "" {
		copy.Notifications.SlackWebhookURL = "***"
	}

	return &copy
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Long: `Set a configuration value using a dotted key path.

The value is written to .codeguard/codeguard.jsonc in the repository root.
The file is created if it does not exist.

Note: JSONC comments are not preserved on write.

Examples:
  codeguard config set server.port 4180
  codeguard config set llm.model "gemini-2.5-flash"
  codeguard config set sandbox.allow_network false`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		rawValue := args[1]

		// Determine value type: try bool, then number, then string
		var value any
		if b, err := strconv.ParseBool(rawValue); err == nil {
			value = b
		} else if i, err := strconv.ParseInt(rawValue, 10, 64); err == nil {
			value = i
		} else if f, err := strconv.ParseFloat(rawValue, 64); err == nil {
			value = f
		} else {
			value = rawValue
		}

		repoRoot := config.RepoRoot()
		if repoRoot == "" {
			return fmt.Errorf("not in a git repository")
		}

		configDir := filepath.Join(repoRoot, ".codeguard")
		repoConfigPath := filepath.Join(configDir, "codeguard.jsonc")

		// Read existing file or start with empty JSON object
		var existing []byte
		if data, err := os.ReadFile(repoConfigPath); err == nil {
			// Strip JSONC comments before passing to sjson (which requires valid JSON).
			existing = jsonc.ToJSON(data)
		} else {
			existing = []byte("{}")
		}

		// Use sjson for in-place modification
		updated, err := sjson.SetBytes(existing, key, value)
		if err != nil {
			return fmt.Errorf("setting key %q: %w", key, err)
		}

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(repoConfigPath, updated, 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
		return nil
	},
}
