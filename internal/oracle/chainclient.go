package oracle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/graphprotocol/block-oracle-go/internal/caip2"
	"github.com/graphprotocol/block-oracle-go/internal/message"
	"github.com/graphprotocol/block-oracle-go/internal/telemetry"
)

// Caller is the subset of a JSON-RPC client an indexed-chain client needs.
// Satisfied by *jsonrpc.Retrying.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// ChainClient reports the latest known block for one indexed chain.
type ChainClient interface {
	LatestBlock(ctx context.Context) (message.BlockPtr, error)
}

type rpcHeader struct {
	Number *hexutil.Big  `json:"number"`
	Hash   hexutil.Bytes `json:"hash"`
}

// JSONRPCChainClient is a ChainClient backed by a standard
// eth_getBlockByNumber("latest") JSON-RPC call.
type JSONRPCChainClient struct {
	chainID caip2.ID
	caller  Caller
}

// NewJSONRPCChainClient wraps caller for chainID. If chainID uses the
// eip155 namespace, the caller's reported eth_chainId is checked against
// the CAIP-2 reference as a sanity check, per spec.
func NewJSONRPCChainClient(ctx context.Context, chainID caip2.ID, caller Caller) (*JSONRPCChainClient, error) {
	if chainID.IsEIP155() {
		want, err := chainID.ChainID()
		if err != nil {
			return nil, fmt.Errorf("oracle: %s: %w", chainID, err)
		}
		var gotHex hexutil.Big
		if err := caller.CallContext(ctx, &gotHex, "eth_chainId"); err != nil {
			return nil, fmt.Errorf("oracle: %s: fetch eth_chainId: %w", chainID, err)
		}
		got := (*gotHex.ToInt()).Uint64()
		if got != want {
			return nil, fmt.Errorf("oracle: %s: RPC endpoint reports chain id %d, expected %d", chainID, got, want)
		}
	}
	return &JSONRPCChainClient{chainID: chainID, caller: caller}, nil
}

// LatestBlock fetches the chain's current head block number and hash.
func (c *JSONRPCChainClient) LatestBlock(ctx context.Context) (message.BlockPtr, error) {
	var header rpcHeader
	if err := c.caller.CallContext(ctx, &header, "eth_getBlockByNumber", "latest", false); err != nil {
		return message.BlockPtr{}, fmt.Errorf("oracle: %s: fetch latest block: %w", c.chainID, err)
	}
	if header.Number == nil {
		return message.BlockPtr{}, fmt.Errorf("oracle: %s: latest block has no number", c.chainID)
	}
	if len(header.Hash) != 32 {
		return message.BlockPtr{}, fmt.Errorf("oracle: %s: latest block hash has length %d, want 32", c.chainID, len(header.Hash))
	}

	var ptr message.BlockPtr
	ptr.Number = header.Number.ToInt().Uint64()
	copy(ptr.Hash[:], header.Hash)
	return ptr, nil
}

// FallbackChainClient tries a primary ChainClient first and, on failure,
// falls back to a secondary one. It is used to back a chain's JSON-RPC
// endpoint with a StreamingFast Blockmeta gRPC endpoint (internal/blockmeta)
// when the former is configured but unreliable for a given chain.
type FallbackChainClient struct {
	chainID   caip2.ID
	primary   ChainClient
	secondary ChainClient
	logger    *telemetry.Logger
}

// NewFallbackChainClient wraps primary with secondary as its fallback.
func NewFallbackChainClient(chainID caip2.ID, primary, secondary ChainClient) *FallbackChainClient {
	return &FallbackChainClient{
		chainID:   chainID,
		primary:   primary,
		secondary: secondary,
		logger:    telemetry.Module("oracle"),
	}
}

// LatestBlock tries the primary client, falling back to the secondary one
// if the primary call fails.
func (c *FallbackChainClient) LatestBlock(ctx context.Context) (message.BlockPtr, error) {
	ptr, err := c.primary.LatestBlock(ctx)
	if err == nil {
		return ptr, nil
	}
	c.logger.Warn("primary chain client failed, falling back to blockmeta", "chain_id", c.chainID, "err", err)
	return c.secondary.LatestBlock(ctx)
}

// ParseCAIP2Map parses a chain-id -> URL configuration map's keys, used by
// the CLI to fail fast on a malformed indexed_chains table.
func ParseCAIP2Map(urlsByChainID map[string]string) (map[caip2.ID]string, error) {
	out := make(map[caip2.ID]string, len(urlsByChainID))
	for raw, url := range urlsByChainID {
		id, err := caip2.Parse(raw)
		if err != nil {
			return nil, err
		}
		out[id] = url
	}
	return out, nil
}
