package blockmeta

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/graphprotocol/block-oracle-go/internal/message"
)

const (
	headMethod    = "/sf.blockmeta.v2.BlockService/Head"
	numToIDMethod = "/sf.blockmeta.v2.BlockService/NumToID"
)

// Block is the block identity a Blockmeta service reports for one chain.
type Block struct {
	Number uint64
	Hash   common.Hash
}

// Head fetches the chain's current head block. A NotFound status is
// reported as (nil, nil): the service is reachable but has no block yet.
func (c *Client) Head(ctx context.Context) (*Block, error) {
	var resp blockResp
	err := c.conn.Invoke(ctx, headMethod, &emptyMsg{}, &resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return blockFromResp(resp), nil
}

// NumToID resolves a block number to its identity via the service.
func (c *Client) NumToID(ctx context.Context, blockNum uint64) (*Block, error) {
	var resp blockResp
	req := &numToIDReq{BlockNum: blockNum}
	if err := c.conn.Invoke(ctx, numToIDMethod, req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return blockFromResp(resp), nil
}

func blockFromResp(resp blockResp) *Block {
	return &Block{Number: resp.Num, Hash: common.HexToHash(resp.ID)}
}

// ChainClient adapts a Client into the oracle package's ChainClient
// interface (LatestBlock(ctx) (message.BlockPtr, error)), reporting one
// chain's head block via Head.
type ChainClient struct {
	chainID string
	client  *Client
}

// NewChainClient wraps client to report the latest block for chainID.
func NewChainClient(chainID string, client *Client) *ChainClient {
	return &ChainClient{chainID: chainID, client: client}
}

// LatestBlock implements oracle.ChainClient.
func (c *ChainClient) LatestBlock(ctx context.Context) (message.BlockPtr, error) {
	block, err := c.client.Head(ctx)
	if err != nil {
		return message.BlockPtr{}, fmt.Errorf("blockmeta: %s: fetch head: %w", c.chainID, err)
	}
	if block == nil {
		return message.BlockPtr{}, fmt.Errorf("blockmeta: %s: service reports no head block", c.chainID)
	}
	return message.BlockPtr{Number: block.Number, Hash: block.Hash}, nil
}
