package main

import (
	"fmt"
	"os"

	"github.com/BAMresearch/chatBIS/internal/chatbis/cli"
)

func main() {
	if err := cli.Root().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
