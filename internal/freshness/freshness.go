// Package freshness determines whether an indexer subgraph has observed
// every oracle-relevant transaction up to the protocol chain's head.
package freshness

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// BatchCaller is the subset of a JSON-RPC client freshness needs; satisfied
// by *jsonrpc.Retrying.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, batch []rpc.BatchElem) error
}

// Check reports whether subgraphBlock is fresh relative to chainBlock: the
// subgraph may lag by up to threshold blocks, and only if none of the
// blocks in between carry a transaction from owner to contract.
func Check(ctx context.Context, subgraphBlock, chainBlock uint64, owner, contract common.Address, threshold uint64, client BatchCaller) (bool, error) {
	if subgraphBlock > chainBlock {
		return true, nil
	}
	if subgraphBlock == chainBlock {
		return true, nil
	}
	if chainBlock-subgraphBlock > threshold {
		return false, nil
	}

	matches, err := scanForCalls(ctx, subgraphBlock+1, chainBlock, owner, contract, client)
	if err != nil {
		return false, err
	}
	return len(matches) == 0, nil
}

type rpcBlock struct {
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	From common.Address  `json:"from"`
	To   *common.Address `json:"to"`
}

// scanForCalls fetches every block in the inclusive range [from, to] with
// full transactions and returns those sent by owner to contract.
func scanForCalls(ctx context.Context, from, to uint64, owner, contract common.Address, client BatchCaller) ([]rpcTransaction, error) {
	if from > to {
		return nil, nil
	}

	n := int(to-from) + 1
	batch := make([]rpc.BatchElem, n)
	results := make([]rpcBlock, n)
	for i := 0; i < n; i++ {
		blockNumber := from + uint64(i)
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{toBlockNumArg(blockNumber), true},
			Result: &results[i],
		}
	}

	if err := client.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("freshness: batch block scan: %w", err)
	}

	var matches []rpcTransaction
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, fmt.Errorf("freshness: block %d: %w", from+uint64(i), elem.Error)
		}
		for _, tx := range results[i].Transactions {
			if tx.From == owner && tx.To != nil && *tx.To == contract {
				matches = append(matches, tx)
			}
		}
	}
	return matches, nil
}

func toBlockNumArg(n uint64) string {
	return hexutil.EncodeUint64(n)
}
