package cli

import (
	"encoding/json"
	"fmt"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/spf13/cobra"
)

var scanJSONFlag bool

func init() {
	scanCmd.Flags().BoolVar(&scanJSONFlag, "json", false, "Emit findings as JSON")
}

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Analyze a local directory for issues",
	Long: `Run the static analyzers over a local source tree and print the findings.

Defaults to the current directory when no path is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}

		engine, err := newDetectionEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		issues, err := analyzer.New(engine).Analyze(cmd.Context(), root)
		if err != nil {
			return fmt.Errorf("analyzing %s: %w", root, err)
		}

		out := cmd.OutOrStdout()
		if scanJSONFlag {
			data, err := json.MarshalIndent(issues, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling findings: %w", err)
			}
			fmt.Fprintln(out, string(data))
		} else {
			for _, issue := range issues {
				fmt.Fprintf(out, "%s:%d [%s/%s] %s\n",
					issue.File, issue.Line, issue.Severity, issue.BugType, issue.Description)
			}
		}

		if n := len(issues); n > 0 {
			return fmt.Errorf("%d issue(s) found", n)
		}
		fmt.Fprintln(out, "no issues found")
		return nil
	},
}
