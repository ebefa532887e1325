// Package txmonitor broadcasts a signed transaction and polls for its
// confirmation, rebroadcasting with a bumped gas price on the same nonce
// when confirmation does not arrive in time.
package txmonitor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/graphprotocol/block-oracle-go/internal/telemetry"
)

// ErrConfirmationTimeout is returned when max retries are exhausted without
// any broadcast transaction reaching the required confirmation depth.
var ErrConfirmationTimeout = errors.New("txmonitor: confirmation timeout")

// Chain is the subset of a JSON-RPC client the monitor needs.
type Chain interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Options configures a Monitor's retry and confirmation policy. Zero values
// are replaced with the defaults documented below.
type Options struct {
	ChainID               *big.Int
	GasLimit              uint64        // default 100_000
	GasPercentualIncrease uint64        // default 50
	PollInterval          time.Duration // default 5s
	ConfirmationTimeout   time.Duration // default 120s
	Confirmations         uint64        // default 2
	MaxRetries            int           // default 10
	MaxFeePerGas          *big.Int      // optional; presence selects a DynamicFeeTx
	MaxPriorityFeePerGas  *big.Int      // optional
}

func (o Options) withDefaults() Options {
	if o.GasLimit == 0 {
		o.GasLimit = 100_000
	}
	if o.GasPercentualIncrease == 0 {
		o.GasPercentualIncrease = 50
	}
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.ConfirmationTimeout == 0 {
		o.ConfirmationTimeout = 120 * time.Second
	}
	if o.Confirmations == 0 {
		o.Confirmations = 2
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 10
	}
	return o
}

// Monitor signs, broadcasts, and confirms a single logical transaction,
// gas-bumping and rebroadcasting on the same nonce as needed.
type Monitor struct {
	chain      Chain
	signingKey *ecdsa.PrivateKey
	to         common.Address
	calldata   []byte
	opts       Options
	logger     *telemetry.Logger
}

// New creates a Monitor that will send calldata to `to` using signingKey,
// against the given chain client.
func New(chain Chain, signingKey *ecdsa.PrivateKey, to common.Address, calldata []byte, opts Options) *Monitor {
	return &Monitor{
		chain:      chain,
		signingKey: signingKey,
		to:         to,
		calldata:   calldata,
		opts:       opts.withDefaults(),
		logger:     telemetry.Module("txmonitor"),
	}
}

// Send runs the full protocol: sign, broadcast, poll for confirmation, and
// gas-bump-rebroadcast on the same nonce up to MaxRetries times.
func (m *Monitor) Send(ctx context.Context) (*types.Receipt, error) {
	owner := crypto.PubkeyToAddress(m.signingKey.PublicKey)

	var nonceHex hexutil.Uint64
	if err := m.chain.CallContext(ctx, &nonceHex, "eth_getTransactionCount", owner, "pending"); err != nil {
		return nil, fmt.Errorf("txmonitor: fetch nonce: %w", err)
	}
	nonce := uint64(nonceHex)

	var gasPriceHex hexutil.Big
	if err := m.chain.CallContext(ctx, &gasPriceHex, "eth_gasPrice"); err != nil {
		return nil, fmt.Errorf("txmonitor: fetch gas price: %w", err)
	}
	gasPrice := (*big.Int)(&gasPriceHex)

	hashes := make(map[common.Hash]struct{})

	for attempt := 0; ; attempt++ {
		signed, err := m.buildAndSign(nonce, gasPrice)
		if err != nil {
			return nil, fmt.Errorf("txmonitor: sign attempt %d: %w", attempt, err)
		}

		if err := m.broadcast(ctx, signed); err != nil {
			return nil, fmt.Errorf("txmonitor: broadcast attempt %d: %w", attempt, err)
		}
		hashes[signed.Hash()] = struct{}{}
		m.logger.Info("broadcast transaction", "hash", signed.Hash(), "nonce", nonce, "attempt", attempt)

		receipt, err := m.pollForConfirmation(ctx, hashes)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}

		if attempt >= m.opts.MaxRetries {
			return nil, ErrConfirmationTimeout
		}
		gasPrice = bumpGasPrice(gasPrice, m.opts.GasPercentualIncrease)
	}
}

func (m *Monitor) buildAndSign(nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	var tx *types.Transaction
	if m.opts.MaxFeePerGas != nil {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   m.opts.ChainID,
			Nonce:     nonce,
			GasTipCap: m.opts.MaxPriorityFeePerGas,
			GasFeeCap: m.opts.MaxFeePerGas,
			Gas:       m.opts.GasLimit,
			To:        &m.to,
			Value:     big.NewInt(0),
			Data:      m.calldata,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      m.opts.GasLimit,
			To:       &m.to,
			Value:    big.NewInt(0),
			Data:     m.calldata,
		})
	}

	signer := types.LatestSignerForChainID(m.opts.ChainID)
	return types.SignTx(tx, signer, m.signingKey)
}

func (m *Monitor) broadcast(ctx context.Context, tx *types.Transaction) error {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	return m.chain.CallContext(ctx, nil, "eth_sendRawTransaction", hexutil.Bytes(raw))
}

// pollForConfirmation polls every PollInterval until ConfirmationTimeout
// elapses, returning a receipt once any tracked hash reaches the required
// confirmation depth, or nil if the timeout is reached first.
func (m *Monitor) pollForConfirmation(ctx context.Context, hashes map[common.Hash]struct{}) (*types.Receipt, error) {
	deadline := time.Now().Add(m.opts.ConfirmationTimeout)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, nil
			}
			for hash := range hashes {
				receipt, confirmed, err := m.checkConfirmed(ctx, hash)
				if err != nil {
					m.logger.Warn("confirmation check failed", "hash", hash, "err", err)
					continue
				}
				if confirmed {
					return receipt, nil
				}
			}
		}
	}
}

func (m *Monitor) checkConfirmed(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error) {
	var receipt *types.Receipt
	if err := m.chain.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, false, err
	}
	if receipt == nil {
		return nil, false, nil
	}

	var headHex hexutil.Uint64
	if err := m.chain.CallContext(ctx, &headHex, "eth_blockNumber"); err != nil {
		return nil, false, err
	}
	head := uint64(headHex)
	if receipt.BlockNumber == nil {
		return nil, false, nil
	}
	confirmations := head - receipt.BlockNumber.Uint64() + 1
	return receipt, confirmations >= m.opts.Confirmations, nil
}

// bumpGasPrice multiplies gasPrice by (100+pct)/100, rounded up.
func bumpGasPrice(gasPrice *big.Int, pct uint64) *big.Int {
	numerator := new(big.Int).Mul(gasPrice, big.NewInt(int64(100+pct)))
	bumped := new(big.Int).Div(numerator, big.NewInt(100))
	remainder := new(big.Int).Mod(numerator, big.NewInt(100))
	if remainder.Sign() != 0 {
		bumped.Add(bumped, big.NewInt(1))
	}
	return bumped
}
