package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/graphprotocol/block-oracle-go/internal/config"
	"github.com/graphprotocol/block-oracle-go/internal/contracts"
)

func newCurrentEpochCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "current-epoch",
		Short: "Query the epoch manager contract and print its current epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			d, err := loadDeps(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var result hexutil.Bytes
			call := map[string]interface{}{
				"to":   d.epochManager,
				"data": hexutil.Bytes(contracts.EncodeCurrentEpoch()),
			}
			if err := d.protocolChain.CallContext(ctx, &result, "eth_call", call, "latest"); err != nil {
				return err
			}
			epoch, err := contracts.DecodeCurrentEpoch(result)
			if err != nil {
				return err
			}
			fmt.Println(epoch.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config-file", "", "path to the TOML configuration file")
	cmd.MarkFlagRequired("config-file")
	return cmd
}
