// Package contracts hand-builds calldata for the two epoch-manager /
// oracle contract calls this binary needs, without generating full ABI
// bindings for either contract.
package contracts

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// selector returns the 4-byte Keccak-256 selector of a Solidity function
// signature, e.g. "transfer(address,uint256)".
func selector(signature string) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	sum := h.Sum(nil)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// CrossChainEpochOracleSelector is the selector of
// crossChainEpochOracle(bytes).
var CrossChainEpochOracleSelector = selector("crossChainEpochOracle(bytes)")

// CurrentEpochSelector is the selector of currentEpoch().
var CurrentEpochSelector = selector("currentEpoch()")

// EncodeCrossChainEpochOracle builds calldata for
// crossChainEpochOracle(bytes), ABI-encoding payload as the sole dynamic
// argument: selector, then a 32-byte offset (always 32), a 32-byte length,
// and payload right-padded to a multiple of 32 bytes.
func EncodeCrossChainEpochOracle(payload []byte) []byte {
	out := make([]byte, 0, 4+32+32+roundUp32(len(payload)))
	out = append(out, CrossChainEpochOracleSelector[:]...)
	out = append(out, leftPadUint64(32)...)
	out = append(out, leftPadUint64(uint64(len(payload)))...)
	out = append(out, payload...)
	out = append(out, make([]byte, roundUp32(len(payload))-len(payload))...)
	return out
}

// EncodeCurrentEpoch builds calldata for the no-argument currentEpoch()
// call.
func EncodeCurrentEpoch() []byte {
	out := make([]byte, 4)
	copy(out, CurrentEpochSelector[:])
	return out
}

// DecodeCurrentEpoch decodes a currentEpoch() return value: a single
// left-padded uint256.
func DecodeCurrentEpoch(returnData []byte) (*big.Int, error) {
	if len(returnData) != 32 {
		return nil, fmt.Errorf("contracts: currentEpoch() return data must be 32 bytes, got %d", len(returnData))
	}
	return new(big.Int).SetBytes(returnData), nil
}

func roundUp32(n int) int {
	return (n + 31) / 32 * 32
}

func leftPadUint64(v uint64) []byte {
	out := make([]byte, 32)
	big.NewInt(0).SetUint64(v).FillBytes(out)
	return out
}
