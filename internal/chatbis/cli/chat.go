package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BAMresearch/chatBIS/common/version"
	"github.com/BAMresearch/chatBIS/internal/chatbis/app"
	"github.com/BAMresearch/chatBIS/internal/chatbis/config"
)

func chatCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively",
		Long:  "Starts an interactive conversation. /clear starts over, /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, session)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "resume an existing session id")

	return cmd
}

func runChat(cmd *cobra.Command, session string) error {
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

	ctx := cmd.Context()
	engine := a.Engine()

	var id string
	if session != "" {
		id, err = engine.ResumeSession(ctx, session)
	} else {
		id, err = engine.StartSession(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "chatBIS %s\n", version.Version)
	fmt.Fprintf(out, "Session %s. Ask about openBIS; /clear starts over, /quit exits.\n\n", id)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			fmt.Fprintln(out, "Bye.")
			return nil
		case "/clear":
			id, err = engine.ClearSession(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Started over. New session %s.\n\n", id)
			continue
		}

		reply, err := engine.HandleMessage(ctx, id, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n\n", err)
			continue
		}

		fmt.Fprintf(out, "\nchatBIS> %s\n", reply.Text)
		printSources(out, reply.Sources)
		fmt.Fprintln(out)
	}
}
