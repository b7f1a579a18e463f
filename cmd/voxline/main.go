package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "voxline",
		Short: "Turn-taking orchestrator for voice agents",
		Long: `voxline serves duplex call channels for configured voice agents: it transcribes
caller audio, generates replies through the configured language model and tells
the client what to speak.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newCallCmd(), newAgentsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		os.Exit(1)
	}
}
