// Command oracle is the cross-chain epoch block oracle: it polls an
// indexer subgraph and a protocol-chain epoch manager contract, gathers the
// latest block from every indexed chain, and submits a compressed payload
// once per epoch.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "oracle",
		Short:         "Cross-chain epoch block oracle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCommand(),
		newEncodeCommand(),
		newCurrentEpochCommand(),
		newSendMessageCommand(),
		newCorrectLastEpochCommand(),
	)
	return root
}
