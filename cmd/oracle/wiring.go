package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/graphprotocol/block-oracle-go/internal/blockmeta"
	"github.com/graphprotocol/block-oracle-go/internal/caip2"
	"github.com/graphprotocol/block-oracle-go/internal/config"
	"github.com/graphprotocol/block-oracle-go/internal/indexer"
	"github.com/graphprotocol/block-oracle-go/internal/jsonrpc"
	"github.com/graphprotocol/block-oracle-go/internal/oracle"
	"github.com/graphprotocol/block-oracle-go/internal/telemetry"
	"github.com/graphprotocol/block-oracle-go/internal/txmonitor"
)

// deps bundles everything a CLI command needs once a config file has been
// loaded, so each subcommand wires only what it uses.
type deps struct {
	cfg           *config.Config
	protocolChain *jsonrpc.Retrying
	signingKey    *ecdsa.PrivateKey
	owner         common.Address
	dataEdge      common.Address
	epochManager  common.Address
}

func loadDeps(cfg *config.Config) (*deps, error) {
	retryOpts := jsonrpc.Options{
		MaxElapsedTime: time.Duration(cfg.Web3TransportRetryMaxWaitInSeconds) * time.Second,
	}
	protocolChain, err := jsonrpc.Dial(cfg.ProtocolChain.JRPC, retryOpts)
	if err != nil {
		return nil, fmt.Errorf("dial protocol chain %s: %w", cfg.ProtocolChain.JRPC, err)
	}

	d := &deps{
		cfg:           cfg,
		protocolChain: protocolChain,
		owner:         common.HexToAddress(cfg.OwnerAddress),
		dataEdge:      common.HexToAddress(cfg.DataEdgeAddress),
		epochManager:  common.HexToAddress(cfg.EpochManagerAddress),
	}

	if cfg.OwnerPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OwnerPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse owner_private_key: %w", err)
		}
		d.signingKey = key
	}

	return d, nil
}

func dialIndexedChains(cfg *config.Config, retryOpts jsonrpc.Options) (map[caip2.ID]oracle.ChainClient, error) {
	ctx := context.Background()
	ids, err := oracle.ParseCAIP2Map(cfg.IndexedChains)
	if err != nil {
		return nil, fmt.Errorf("indexed_chains: %w", err)
	}
	blockmetaURLs, err := oracle.ParseCAIP2Map(cfg.BlockmetaIndexedChains)
	if err != nil {
		return nil, fmt.Errorf("blockmeta_indexed_chains: %w", err)
	}

	clients := make(map[caip2.ID]oracle.ChainClient, len(ids))
	for id, url := range ids {
		rpcClient, err := jsonrpc.Dial(url, retryOpts)
		if err != nil {
			return nil, fmt.Errorf("dial indexed chain %s: %w", id, err)
		}
		chainClient, err := oracle.NewJSONRPCChainClient(ctx, id, rpcClient)
		if err != nil {
			return nil, fmt.Errorf("indexed chain %s: %w", id, err)
		}

		var client oracle.ChainClient = chainClient
		if blockmetaURL, ok := blockmetaURLs[id]; ok {
			blockmetaClient, err := dialBlockmetaChainClient(ctx, id, blockmetaURL, cfg.BlockmetaAuthToken, retryOpts)
			if err != nil {
				return nil, fmt.Errorf("dial blockmeta endpoint for %s: %w", id, err)
			}
			client = oracle.NewFallbackChainClient(id, chainClient, blockmetaClient)
		}
		clients[id] = client
	}
	return clients, nil
}

// dialBlockmetaChainClient connects to a per-chain StreamingFast Blockmeta
// gRPC endpoint, used as a fallback block source by dialIndexedChains.
func dialBlockmetaChainClient(ctx context.Context, id caip2.ID, target, authToken string, retryOpts jsonrpc.Options) (*blockmeta.ChainClient, error) {
	client, err := blockmeta.Dial(ctx, target, blockmeta.Options{
		BearerToken:    authToken,
		MaxElapsedTime: retryOpts.MaxElapsedTime,
	})
	if err != nil {
		return nil, err
	}
	return blockmeta.NewChainClient(id.String(), client), nil
}

func buildLoop(d *deps) (*oracle.Loop, *telemetry.Metrics, error) {
	retryOpts := jsonrpc.Options{
		MaxElapsedTime: time.Duration(d.cfg.Web3TransportRetryMaxWaitInSeconds) * time.Second,
	}

	indexedChains, err := dialIndexedChains(d.cfg, retryOpts)
	if err != nil {
		return nil, nil, err
	}

	if d.signingKey == nil {
		return nil, nil, fmt.Errorf("owner_private_key is required to run the oracle loop")
	}

	var chainIDHex hexutil.Big
	if err := d.protocolChain.CallContext(context.Background(), &chainIDHex, "eth_chainId"); err != nil {
		return nil, nil, fmt.Errorf("fetch protocol chain id: %w", err)
	}

	monitorOpts := buildTxMonitorOptions(d.cfg, chainIDHex.ToInt())

	metrics := telemetry.NewMetrics()

	loop := oracle.NewLoop()
	loop.Indexer = indexer.New(d.cfg.SubgraphURL, d.cfg.BearerToken, nil)
	loop.ProtocolChain = d.protocolChain
	loop.IndexedChains = indexedChains
	loop.Owner = d.owner
	loop.DataEdge = d.dataEdge
	loop.EpochManager = d.epochManager
	loop.FreshnessWindow = d.cfg.FreshnessThreshold
	loop.PollInterval = d.cfg.PollingInterval()
	loop.Metrics = metrics
	loop.NewSubmitter = oracle.TxMonitorSubmitterFactory(d.protocolChain, d.signingKey, d.dataEdge, monitorOpts)

	return loop, metrics, nil
}

func bigFromUint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// buildTxMonitorOptions translates the config's transaction_monitoring
// table into txmonitor.Options, shared by the run loop and the
// send-message command.
func buildTxMonitorOptions(cfg *config.Config, chainID *big.Int) txmonitor.Options {
	tm := cfg.TransactionMonitoring
	opts := txmonitor.Options{
		ChainID:               chainID,
		GasLimit:              tm.GasLimit,
		GasPercentualIncrease: tm.GasPercentualIncrease,
		PollInterval:          time.Duration(tm.PollIntervalInSeconds) * time.Second,
		ConfirmationTimeout:   time.Duration(tm.TimeoutInSeconds) * time.Second,
		Confirmations:         tm.Confirmations,
		MaxRetries:            tm.MaxRetries,
	}
	if tm.MaxFeePerGas != nil {
		opts.MaxFeePerGas = bigFromUint64(*tm.MaxFeePerGas)
	}
	if tm.MaxPriorityFeePerGas != nil {
		opts.MaxPriorityFeePerGas = bigFromUint64(*tm.MaxPriorityFeePerGas)
	}
	return opts
}
