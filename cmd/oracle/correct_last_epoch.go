package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/graphprotocol/block-oracle-go/internal/caip2"
	"github.com/graphprotocol/block-oracle-go/internal/config"
	"github.com/graphprotocol/block-oracle-go/internal/message"
)

func newCorrectLastEpochCommand() *cobra.Command {
	var configFile, chainIDRaw string
	var blockNumber uint64
	var dryRun, yes bool

	cmd := &cobra.Command{
		Use:   "correct-last-epoch",
		Short: "Plan and confirm a CorrectEpochs correction for one chain (submission is not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := caip2.Parse(chainIDRaw)
			if err != nil {
				return fmt.Errorf("--chain-id: %w", err)
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if _, err := loadDeps(cfg); err != nil {
				return err
			}

			plan := fmt.Sprintf("correct-last-epoch: chain %s, block %d", chainID, blockNumber)
			fmt.Println(plan)

			if dryRun {
				fmt.Println("dry-run: no transaction will be submitted")
				return nil
			}

			if !yes && !confirm() {
				return fmt.Errorf("correct-last-epoch: aborted, not confirmed")
			}

			// CorrectEpochs' wire encoding is unspecified per spec.md §9; this
			// command can only construct the message and stop here until an
			// addendum defines how to encode DataByNetworkID.
			_ = message.CorrectEpochs{}
			return fmt.Errorf("correct-last-epoch: CorrectEpochs encoding is not yet specified, cannot submit")
		},
	}

	cmd.Flags().StringVar(&configFile, "config-file", "", "path to the TOML configuration file")
	cmd.Flags().StringVar(&chainIDRaw, "chain-id", "", "CAIP-2 chain id to correct")
	cmd.Flags().Uint64Var(&blockNumber, "block-number", 0, "corrected block number")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the correction plan without submitting")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the interactive confirmation prompt")
	cmd.MarkFlagRequired("config-file")
	cmd.MarkFlagRequired("chain-id")
	return cmd
}

func confirm() bool {
	fmt.Print("proceed? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
