// Package logging wires slog onto a charmbracelet/log backend shared by the
// server and the CLI commands.
package logging

import (
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

// Setup installs the global slog logger. Interactive terminals get colored
// text; anything else (systemd, container logs) gets JSON. Verbose mode also
// reports call sites, which the heal loop's stage logs benefit from.
func Setup(verbose bool) {
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		ReportCaller:    verbose,
		Prefix:          "codeguard",
	})

	if verbose {
		handler.SetLevel(charmlog.DebugLevel)
	} else {
		handler.SetLevel(charmlog.InfoLevel)
	}

	if !isTerminal() {
		handler.SetFormatter(charmlog.JSONFormatter)
	}

	slog.SetDefault(slog.New(handler))
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
