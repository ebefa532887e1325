// Package jsonmsg decodes the documented JSON message-batch shape into
// []message.Message, just enough to make the `encode` CLI subcommand usable
// without the out-of-scope JSON transcoder service. It is not that
// transcoder: it supports SetBlockNumbersForNextEpoch, RegisterNetworks,
// UpdateVersion and Reset; CorrectEpochs has no JSON form here.
package jsonmsg

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graphprotocol/block-oracle-go/internal/message"
)

type blockPtrJSON struct {
	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
}

type setBlockNumbersJSON struct {
	BlockNumbers map[string]blockPtrJSON `json:"blockNumbers"`
}

type registerNetworksJSON struct {
	Remove []uint64 `json:"remove"`
	Add    []string `json:"add"`
}

type updateVersionJSON struct {
	VersionNumber uint64 `json:"versionNumber"`
}

// entry is the documented per-message envelope: exactly one field set,
// naming the message kind it carries.
type entry struct {
	SetBlockNumbersForNextEpoch *setBlockNumbersJSON  `json:"setBlockNumbersForNextEpoch"`
	RegisterNetworks            *registerNetworksJSON `json:"registerNetworks"`
	UpdateVersion               *updateVersionJSON    `json:"updateVersion"`
	Reset                       *struct{}             `json:"reset"`
}

// Decode parses a JSON array of message envelopes into a batch of
// internal/message.Message values, in file order.
func Decode(data []byte) ([]message.Message, error) {
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("jsonmsg: %w", err)
	}

	out := make([]message.Message, 0, len(entries))
	for i, e := range entries {
		msg, err := e.toMessage()
		if err != nil {
			return nil, fmt.Errorf("jsonmsg: entry %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (e entry) toMessage() (message.Message, error) {
	set := 0
	var msg message.Message

	if e.SetBlockNumbersForNextEpoch != nil {
		set++
		ptrs := make(map[string]message.BlockPtr, len(e.SetBlockNumbersForNextEpoch.BlockNumbers))
		for chainID, ptr := range e.SetBlockNumbersForNextEpoch.BlockNumbers {
			hash, err := decodeHash32(ptr.BlockHash)
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", chainID, err)
			}
			ptrs[chainID] = message.BlockPtr{Number: ptr.BlockNumber, Hash: hash}
		}
		msg = message.SetBlockNumbersForNextEpoch{BlockPtrs: ptrs}
	}
	if e.RegisterNetworks != nil {
		set++
		msg = message.RegisterNetworks{Remove: e.RegisterNetworks.Remove, Add: e.RegisterNetworks.Add}
	}
	if e.UpdateVersion != nil {
		set++
		msg = message.UpdateVersion{VersionNumber: e.UpdateVersion.VersionNumber}
	}
	if e.Reset != nil {
		set++
		msg = message.Reset{}
	}

	if set != 1 {
		return nil, fmt.Errorf("exactly one message field must be set, found %d", set)
	}
	return msg, nil
}

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid blockHash %q: %w", s, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("blockHash %q must decode to 32 bytes, got %d", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
