package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/BAMresearch/chatBIS/internal/chatbis/app"
	"github.com/BAMresearch/chatBIS/internal/chatbis/config"
)

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Long:  "Answers one question from the documentation without starting a session.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, args[0])
		},
	}
}

func runAsk(cmd *cobra.Command, question string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg)

	a, err := app.New(cfg, app.Deps{})
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.Engine().Ask(cmd.Context(), question)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, reply.Text)
	printSources(out, reply.Sources)
	return nil
}

func printSources(out io.Writer, sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for _, s := range sources {
		fmt.Fprintf(out, "  - %s\n", s)
	}
}
