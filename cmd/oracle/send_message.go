package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/graphprotocol/block-oracle-go/internal/config"
	"github.com/graphprotocol/block-oracle-go/internal/contracts"
	"github.com/graphprotocol/block-oracle-go/internal/oracle"
)

func newSendMessageCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "send-message <hex-payload>",
		Short: "Broadcast a previously-encoded payload and print the transaction hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
			if err != nil {
				return fmt.Errorf("invalid hex payload: %w", err)
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			d, err := loadDeps(cfg)
			if err != nil {
				return err
			}
			if d.signingKey == nil {
				return fmt.Errorf("owner_private_key is required to send a message")
			}

			calldata := contracts.EncodeCrossChainEpochOracle(payload)

			var chainIDHex hexutil.Big
			if err := d.protocolChain.CallContext(context.Background(), &chainIDHex, "eth_chainId"); err != nil {
				return fmt.Errorf("fetch protocol chain id: %w", err)
			}

			opts := buildTxMonitorOptions(cfg, chainIDHex.ToInt())

			submitter := oracle.TxMonitorSubmitterFactory(d.protocolChain, d.signingKey, d.dataEdge, opts)(calldata)

			ctx, cancel := context.WithTimeout(context.Background(), opts.ConfirmationTimeout*time.Duration(opts.MaxRetries+1))
			defer cancel()

			hash, err := submitter.Send(ctx)
			if err != nil {
				return err
			}
			fmt.Println(hash.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config-file", "", "path to the TOML configuration file")
	cmd.MarkFlagRequired("config-file")
	return cmd
}
