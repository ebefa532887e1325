// Package oracle implements the per-epoch polling state machine: it
// reconciles the indexer subgraph, the protocol chain's epoch manager
// contract, and every indexed chain's latest block, then builds and
// submits a compressed payload once per detected epoch advancement.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/graphprotocol/block-oracle-go/internal/caip2"
	"github.com/graphprotocol/block-oracle-go/internal/contracts"
	"github.com/graphprotocol/block-oracle-go/internal/encoder"
	"github.com/graphprotocol/block-oracle-go/internal/freshness"
	"github.com/graphprotocol/block-oracle-go/internal/indexer"
	"github.com/graphprotocol/block-oracle-go/internal/message"
	"github.com/graphprotocol/block-oracle-go/internal/networksdiff"
	"github.com/graphprotocol/block-oracle-go/internal/telemetry"
)

// ProtocolChain is the subset of a JSON-RPC client the loop needs against
// the protocol chain: eth_call/eth_blockNumber/eth_getBalance via
// CallContext, and the block-range scan freshness.Check performs via
// BatchCallContext. Satisfied by *jsonrpc.Retrying.
type ProtocolChain interface {
	Caller
	freshness.BatchCaller
}

// Indexer is the subset of internal/indexer's Client the loop needs.
type Indexer interface {
	Query(ctx context.Context) (*indexer.State, error)
}

// Submitter broadcasts calldata and waits for confirmation. Satisfied by the
// adapter TxMonitorSubmitterFactory builds around a *txmonitor.Monitor
// constructed fresh for each submission (it is stateful per-submission,
// per spec.md §3's lifecycle note).
type Submitter interface {
	Send(ctx context.Context) (txHash common.Hash, err error)
}

// SubmitterFactory builds a Submitter bound to one payload's calldata.
type SubmitterFactory func(calldata []byte) Submitter

// Loop ties together the indexer, protocol chain, indexed chains, encoder
// and transaction monitor into the per-iteration state machine of
// spec.md §4.9. It is not safe for concurrent use; one Loop runs on the
// process's single top-level oracle task.
type Loop struct {
	Indexer         Indexer
	ProtocolChain   ProtocolChain
	IndexedChains   map[caip2.ID]ChainClient
	Owner           common.Address
	DataEdge        common.Address
	EpochManager    common.Address
	FreshnessWindow uint64
	PollInterval    time.Duration
	NewSubmitter    SubmitterFactory
	Metrics         *telemetry.Metrics
	logger          *telemetry.Logger
}

// NewLoop constructs a Loop, defaulting its logger to the "oracle" module.
func NewLoop() *Loop {
	return &Loop{logger: telemetry.Module("oracle")}
}

// Run polls forever, sleeping between iterations for the duration backoffFor
// selects, until ctx is cancelled. It returns nil on clean cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if l.logger == nil {
		l.logger = telemetry.Module("oracle")
	}
	for {
		start := time.Now()
		err := l.iterate(context.WithoutCancel(ctx))
		sleep := l.PollInterval
		if err != nil {
			if l.Metrics != nil {
				l.Metrics.Iterations.WithLabelValues("error").Inc()
				l.Metrics.SubmissionErrors.WithLabelValues(kindOf(err)).Inc()
			}
			l.logger.Error("iteration failed", "err", err, "elapsed", time.Since(start))
			sleep = backoffFor(err, l.PollInterval)
		} else if l.Metrics != nil {
			l.Metrics.Iterations.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// iterate runs exactly one pass of the state machine described in
// spec.md §4.9. A nil return means either nothing needed to be done (no
// epoch advancement) or a payload was built and submitted successfully.
func (l *Loop) iterate(ctx context.Context) error {
	if l.logger == nil {
		l.logger = telemetry.Module("oracle")
	}
	subgraph, err := l.Indexer.Query(ctx)
	if err != nil {
		if err == indexer.ErrIndexingError {
			return &ErrIndexerDegraded{Cause: err}
		}
		return classifyIndexerErr(err)
	}

	currentEpoch, err := l.currentEpoch(ctx)
	if err != nil {
		return &ErrBadJrpcProtocolChain{Cause: err}
	}
	if l.Metrics != nil {
		l.Metrics.EpochManagerVal.Set(float64(currentEpoch))
	}

	subgraphEpoch, initialized := subgraphLatestEpoch(subgraph)
	if initialized {
		if l.Metrics != nil {
			l.Metrics.SubgraphEpoch.Set(float64(subgraphEpoch))
		}
		switch {
		case subgraphEpoch == currentEpoch:
			return nil
		case subgraphEpoch > currentEpoch:
			return &ErrEpochManagerBehindSubgraph{Manager: currentEpoch, Subgraph: subgraphEpoch}
		}
	}

	fresh, err := l.checkFreshness(ctx, subgraph)
	if err != nil {
		return &ErrBadJrpcProtocolChain{Cause: err}
	}
	if !fresh {
		return &ErrSubgraphNotFresh{}
	}

	l.reportOwnerBalance(ctx)

	latestBlocks := l.gatherLatestBlocks(ctx)

	var registered []indexer.Network
	if subgraph.GlobalState != nil {
		registered = subgraph.GlobalState.Networks
	}
	messages := l.buildMessages(registered, latestBlocks)

	payload, err := l.encode(subgraph, messages)
	if err != nil {
		return fmt.Errorf("oracle: build payload: %w", err)
	}

	calldata := contracts.EncodeCrossChainEpochOracle(payload)
	submitter := l.NewSubmitter(calldata)
	hash, err := submitter.Send(ctx)
	if err != nil {
		return &ErrCantSubmitTx{Cause: err}
	}

	if l.Metrics != nil {
		l.Metrics.LastSubmittedAt.SetToCurrentTime()
	}
	l.logger.Info("submitted payload", "tx_hash", hash, "messages", len(messages))
	return nil
}

// classifyIndexerErr maps an indexer.Query failure (other than
// ErrIndexingError, which the caller handles separately) to its backoff
// multiplier per spec.md §4.9 step 1: malformed responses (ErrBadData) and
// any other non-transport failure (ErrOther) get the long 40x cooldown
// alongside indexing errors; only a genuine transport failure gets 4x.
func classifyIndexerErr(err error) error {
	if errors.Is(err, indexer.ErrBadData) || errors.Is(err, indexer.ErrOther) {
		return &ErrIndexerDegraded{Cause: err}
	}
	return &ErrIndexerTransport{Cause: err}
}

func kindOf(err error) string {
	switch err.(type) {
	case *ErrBadJrpcProtocolChain:
		return "bad_jrpc_protocol_chain"
	case *ErrIndexerTransport:
		return "indexer_transport"
	case *ErrIndexerDegraded:
		return "indexer_degraded"
	case *ErrEpochManagerBehindSubgraph:
		return "epoch_manager_behind_subgraph"
	case *ErrSubgraphNotFresh:
		return "subgraph_not_fresh"
	case *ErrCantSubmitTx:
		return "cant_submit_tx"
	default:
		return "other"
	}
}

// subgraphLatestEpoch returns the subgraph's reported latest epoch, and
// whether it is initialized at all (the bootstrap case: no global state or
// no latest epoch number yet means "proceed unconditionally").
func subgraphLatestEpoch(s *indexer.State) (uint64, bool) {
	if s.GlobalState == nil || s.GlobalState.LatestEpochNumber == nil {
		return 0, false
	}
	return *s.GlobalState.LatestEpochNumber, true
}

// currentEpoch reads the epoch manager contract's currentEpoch().
func (l *Loop) currentEpoch(ctx context.Context) (uint64, error) {
	var result hexutil.Bytes
	call := map[string]interface{}{
		"to":   l.EpochManager,
		"data": hexutil.Bytes(contracts.EncodeCurrentEpoch()),
	}
	if err := l.ProtocolChain.CallContext(ctx, &result, "eth_call", call, "latest"); err != nil {
		return 0, fmt.Errorf("oracle: eth_call currentEpoch: %w", err)
	}
	epoch, err := contracts.DecodeCurrentEpoch(result)
	if err != nil {
		return 0, err
	}
	if !epoch.IsUint64() {
		return 0, fmt.Errorf("oracle: currentEpoch() returned a value too large for uint64: %s", epoch)
	}
	return epoch.Uint64(), nil
}

// checkFreshness fetches the protocol chain's head and runs the freshness
// check against the subgraph's last indexed block.
func (l *Loop) checkFreshness(ctx context.Context, subgraph *indexer.State) (bool, error) {
	var headHex hexutil.Uint64
	if err := l.ProtocolChain.CallContext(ctx, &headHex, "eth_blockNumber"); err != nil {
		return false, fmt.Errorf("oracle: fetch protocol chain head: %w", err)
	}
	return freshness.Check(ctx, subgraph.LastIndexedBlockNumber, uint64(headHex), l.Owner, l.DataEdge, l.FreshnessWindow, l.ProtocolChain)
}

// reportOwnerBalance queries and records the owner's protocol-chain ETH
// balance. Supplemental to spec.md: a pure operational signal, no control
// flow depends on it, so failures are logged and otherwise ignored.
func (l *Loop) reportOwnerBalance(ctx context.Context) {
	if l.Metrics == nil {
		return
	}
	var balanceHex hexutil.Big
	if err := l.ProtocolChain.CallContext(ctx, &balanceHex, "eth_getBalance", l.Owner, "latest"); err != nil {
		l.logger.Warn("failed to query owner balance", "err", err)
		return
	}
	balance := new(big.Int).Set(balanceHex.ToInt())
	l.Metrics.OwnerBalanceWei.Set(bigToFloat(balance))
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// gatherLatestBlocks fetches the latest block from every indexed chain
// concurrently. A per-chain failure is logged and the chain excluded from
// the result; the group never returns an error, so one chain's failure
// never aborts the others or the iteration as a whole.
func (l *Loop) gatherLatestBlocks(ctx context.Context) map[caip2.ID]message.BlockPtr {
	results := make(map[caip2.ID]message.BlockPtr, len(l.IndexedChains))
	var mu sync.Mutex
	var g errgroup.Group

	for chainID, client := range l.IndexedChains {
		chainID, client := chainID, client
		g.Go(func() error {
			ptr, err := client.LatestBlock(ctx)
			if err != nil {
				l.logger.Warn("dropping chain from this iteration", "chain_id", chainID, "err", &ErrBadJrpcIndexedChain{ChainID: chainID.String(), Cause: err})
				return nil
			}
			mu.Lock()
			results[chainID] = ptr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// buildMessages assembles the RegisterNetworks (if any) and
// SetBlockNumbersForNextEpoch messages for this iteration, dropping any
// gathered chain that is not in the configured set.
func (l *Loop) buildMessages(registered []indexer.Network, latestBlocks map[caip2.ID]message.BlockPtr) []message.Message {
	configured := make([]caip2.ID, 0, len(l.IndexedChains))
	for chainID := range l.IndexedChains {
		configured = append(configured, chainID)
	}
	sort.Slice(configured, func(i, j int) bool { return configured[i].String() < configured[j].String() })

	var messages []message.Message
	deletions, insertions := networksdiff.Diff(registered, configured)
	if registerMsg, ok := networksdiff.ToMessage(deletions, insertions); ok {
		messages = append(messages, registerMsg)
	}

	configuredSet := make(map[caip2.ID]bool, len(configured))
	for _, id := range configured {
		configuredSet[id] = true
	}

	ptrs := make(map[string]message.BlockPtr, len(latestBlocks))
	for chainID, ptr := range latestBlocks {
		if !configuredSet[chainID] {
			l.logger.Warn("dropping ignored chain from payload", "chain_id", chainID)
			continue
		}
		ptrs[chainID.String()] = ptr
	}
	messages = append(messages, message.SetBlockNumbersForNextEpoch{BlockPtrs: ptrs})

	return messages
}

// encode builds an encoder preloaded from the subgraph's registered
// networks and runs it over messages, per spec.md §4.9 step 7.
func (l *Loop) encode(subgraph *indexer.State, messages []message.Message) ([]byte, error) {
	var encodingVersion uint64
	var initial []encoder.InitialNetwork

	if gs := subgraph.GlobalState; gs != nil {
		encodingVersion = gs.EncodingVersion
		ordered := make([]indexer.Network, len(gs.Networks))
		copy(ordered, gs.Networks)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].ArrayIndex < ordered[j].ArrayIndex })

		initial = make([]encoder.InitialNetwork, len(ordered))
		for i, n := range ordered {
			var state encoder.NetworkState
			if n.LatestBlockUpdate != nil {
				state = encoder.NetworkState{
					BlockNumber: n.LatestBlockUpdate.BlockNumber,
					BlockDelta:  n.LatestBlockUpdate.Delta,
				}
			}
			initial[i] = encoder.InitialNetwork{ChainID: n.ID.String(), State: state}
		}
	}

	enc := encoder.New(encodingVersion, initial)
	before := enc.Networks()
	payload, err := enc.Encode(messages)
	if err != nil {
		return nil, err
	}
	if networksEqual(before, enc.Networks()) {
		return nil, fmt.Errorf("oracle: encoder state unchanged after compressing %d message(s); refusing to submit a no-op payload", len(messages))
	}
	return payload, nil
}

// networksEqual reports whether two network-registry snapshots are
// identical, used by encode to assert the encoder's internal state
// actually advanced before a payload is submitted.
func networksEqual(a, b []encoder.InitialNetwork) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
