package freshness

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

var owner = common.HexToAddress("0x1111111111111111111111111111111111111111")
var contract = common.HexToAddress("0x2222222222222222222222222222222222222222")

type fakeBatchCaller struct {
	matchAtBlock uint64
	hasMatch     bool
}

func (f *fakeBatchCaller) BatchCallContext(ctx context.Context, batch []rpc.BatchElem) error {
	for i := range batch {
		block := batch[i].Result.(*rpcBlock)
		blockNumArg := batch[i].Args[0].(string)
		if f.hasMatch && blockNumArg == toBlockNumArg(f.matchAtBlock) {
			block.Transactions = []rpcTransaction{{From: owner, To: &contract}}
		}
	}
	return nil
}

func TestCheckFreshWhenSubgraphAheadOfChain(t *testing.T) {
	fresh, err := Check(context.Background(), 200, 100, owner, contract, 10, &fakeBatchCaller{})
	require.NoError(t, err)
	require.True(t, fresh)
}

func TestCheckFreshWhenEqual(t *testing.T) {
	fresh, err := Check(context.Background(), 100, 100, owner, contract, 10, &fakeBatchCaller{})
	require.NoError(t, err)
	require.True(t, fresh)
}

func TestCheckNotFreshBeyondThresholdWithoutScanning(t *testing.T) {
	caller := &fakeBatchCaller{}
	fresh, err := Check(context.Background(), 100, 200, owner, contract, 10, caller)
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestCheckFreshWithinThresholdNoMatches(t *testing.T) {
	fresh, err := Check(context.Background(), 100, 105, owner, contract, 10, &fakeBatchCaller{})
	require.NoError(t, err)
	require.True(t, fresh)
}

func TestCheckNotFreshWithMatchingTransaction(t *testing.T) {
	caller := &fakeBatchCaller{matchAtBlock: 103, hasMatch: true}
	fresh, err := Check(context.Background(), 100, 105, owner, contract, 10, caller)
	require.NoError(t, err)
	require.False(t, fresh)
}
