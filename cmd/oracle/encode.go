package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graphprotocol/block-oracle-go/internal/contracts"
	"github.com/graphprotocol/block-oracle-go/internal/encoder"
	"github.com/graphprotocol/block-oracle-go/internal/jsonmsg"
)

func newEncodeCommand() *cobra.Command {
	var calldata bool

	cmd := &cobra.Command{
		Use:   "encode <json-path>",
		Short: "Compile a JSON message batch to payload bytes or full calldata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			messages, err := jsonmsg.Decode(raw)
			if err != nil {
				return err
			}

			enc := encoder.New(encoder.CurrentEncodingVersion, nil)
			payload, err := enc.Encode(messages)
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}

			out := payload
			if calldata {
				out = contracts.EncodeCrossChainEpochOracle(payload)
			}

			fmt.Println("0x" + hex.EncodeToString(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&calldata, "calldata", false, "print full ABI-encoded calldata instead of the bare payload")
	return cmd
}
