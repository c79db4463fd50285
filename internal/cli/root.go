package cli

import (
	"fmt"

	"github.com/codeguardhq/codeguard/internal/config"
	"github.com/codeguardhq/codeguard/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	appConfig  *config.Config

	rootCmd = &cobra.Command{
		Use:   "codeguard",
		Short: "Automated code review and self-healing for GitHub repositories",
		Long:  `CodeGuard analyzes pull requests inline via GitHub webhooks and runs autonomous repair sessions that test, fix, and open pull requests against broken repositories.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a codeguard.jsonc config file")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Setup(verbose)

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		appConfig = cfg
		return nil
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(configCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
