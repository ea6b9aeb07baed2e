// Package cli implements the chatbis command tree: serve for the HTTP
// front end, chat for an interactive session, ask for one-shot
// questions, and version.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BAMresearch/chatBIS/internal/chatbis/config"
)

// Root assembles the chatbis command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatbis",
		Short: "Documentation assistant for openBIS",
		Long: "chatBIS answers questions from the openBIS documentation and can run\n" +
			"entity operations against an openBIS server.",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(versionCmd())

	return root
}

// configureLogging points slog at stderr so command output on stdout
// stays clean.
func configureLogging(cfg *config.Config) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}
