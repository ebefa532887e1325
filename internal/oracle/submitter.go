package oracle

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/block-oracle-go/internal/txmonitor"
)

// monitorSubmitter adapts a *txmonitor.Monitor to the Submitter interface.
type monitorSubmitter struct {
	monitor *txmonitor.Monitor
}

func (s monitorSubmitter) Send(ctx context.Context) (common.Hash, error) {
	receipt, err := s.monitor.Send(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// TxMonitorSubmitterFactory builds a SubmitterFactory backed by
// internal/txmonitor, the production Submitter implementation.
func TxMonitorSubmitterFactory(chain txmonitor.Chain, signingKey *ecdsa.PrivateKey, to common.Address, opts txmonitor.Options) SubmitterFactory {
	return func(calldata []byte) Submitter {
		return monitorSubmitter{monitor: txmonitor.New(chain, signingKey, to, calldata, opts)}
	}
}
