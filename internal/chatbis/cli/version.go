package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BAMresearch/chatBIS/common/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatBIS %s\n", version.Info())
		},
	}
}
