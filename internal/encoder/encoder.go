// Package encoder compresses a batch of typed messages against a running
// per-network state and serializes the result to the compact bit-packed
// wire format the oracle contract expects.
package encoder

import (
	"errors"
	"fmt"
	"sort"

	"github.com/graphprotocol/block-oracle-go/internal/message"
	"github.com/graphprotocol/block-oracle-go/internal/merkle"
	"github.com/graphprotocol/block-oracle-go/internal/varint"
)

// CurrentEncodingVersion is the encoding version new encoders default to.
const CurrentEncodingVersion uint64 = 0

var (
	// ErrMessageAfterUpdateVersion is returned when a message is submitted
	// to a batch that already contains UpdateVersion.
	ErrMessageAfterUpdateVersion = errors.New("encoder: no messages may follow UpdateVersion in the same batch")
	// ErrCorrectEpochsUnsupported is returned when a CorrectEpochs message
	// is compressed; its wire encoding is left unspecified by design.
	ErrCorrectEpochsUnsupported = errors.New("encoder: CorrectEpochs encoding is not yet specified")
)

// ErrUnknownNetwork is returned when a SetBlockNumbersForNextEpoch entry
// names a chain that is not in the encoder's registry.
type ErrUnknownNetwork struct {
	ChainID string
}

func (e *ErrUnknownNetwork) Error() string {
	return fmt.Sprintf("encoder: unknown network %q", e.ChainID)
}

// ErrNegativeDelta is returned when a block pointer's number is behind the
// network's last known block number.
type ErrNegativeDelta struct {
	ChainID  string
	Previous uint64
	Next     uint64
}

func (e *ErrNegativeDelta) Error() string {
	return fmt.Sprintf("encoder: network %q block number went backwards: %d -> %d", e.ChainID, e.Previous, e.Next)
}

// NetworkState is the per-chain state the encoder compresses against.
type NetworkState struct {
	BlockNumber uint64
	BlockDelta  int64
}

type networkEntry struct {
	ChainID string
	State   NetworkState
}

// Encoder owns the ordered network registry and buffers compressed messages
// between Compress and Encode calls. It is not safe for concurrent use.
type Encoder struct {
	networks        []networkEntry
	encodingVersion uint64
	buffer          []message.Compressed
}

// InitialNetwork seeds the encoder's registry at construction time.
type InitialNetwork struct {
	ChainID string
	State   NetworkState
}

// New creates an Encoder with the given encoding version and initial
// network registry. Registry order defines wire indices.
func New(encodingVersion uint64, initial []InitialNetwork) *Encoder {
	networks := make([]networkEntry, len(initial))
	for i, n := range initial {
		networks[i] = networkEntry{ChainID: n.ChainID, State: n.State}
	}
	return &Encoder{encodingVersion: encodingVersion, networks: networks}
}

// EncodingVersion returns the encoder's current encoding version.
func (e *Encoder) EncodingVersion() uint64 { return e.encodingVersion }

// Networks returns a snapshot of the current registry, in wire-index order.
func (e *Encoder) Networks() []InitialNetwork {
	out := make([]InitialNetwork, len(e.networks))
	for i, n := range e.networks {
		out[i] = InitialNetwork{ChainID: n.ChainID, State: n.State}
	}
	return out
}

// Compress appends the compressed form of messages to the internal buffer.
func (e *Encoder) Compress(messages []message.Message) ([]message.Compressed, error) {
	start := len(e.buffer)
	for _, m := range messages {
		if err := e.compressOne(m); err != nil {
			return nil, err
		}
	}
	return e.buffer[start:], nil
}

// Encode compresses messages, serializes the full buffer to the wire
// format, clears the buffer, and returns the bytes. Encoding is a stateful
// operation: the Encoder's internal state (network registry, encoding
// version) may change as a side effect.
func (e *Encoder) Encode(messages []message.Message) ([]byte, error) {
	if _, err := e.Compress(messages); err != nil {
		return nil, err
	}
	out := serialize(e.buffer)
	e.buffer = e.buffer[:0]
	return out, nil
}

func (e *Encoder) compressOne(m message.Message) error {
	if last := e.lastCompressed(); last != nil {
		if _, ok := last.(message.CompressedUpdateVersion); ok {
			return ErrMessageAfterUpdateVersion
		}
	}

	switch msg := m.(type) {
	case message.SetBlockNumbersForNextEpoch:
		if len(msg.BlockPtrs) == 0 {
			e.compressEmpty()
			return nil
		}
		return e.compressNonEmpty(msg.BlockPtrs)

	case message.RegisterNetworks:
		for _, idx := range msg.Remove {
			if err := e.removeNetwork(idx); err != nil {
				return err
			}
		}
		for _, name := range msg.Add {
			e.networks = append(e.networks, networkEntry{ChainID: name})
		}
		e.buffer = append(e.buffer, message.CompressedRegisterNetworks{
			Remove: append([]uint64(nil), msg.Remove...),
			Add:    append([]string(nil), msg.Add...),
		})
		return nil

	case message.CorrectEpochs:
		return ErrCorrectEpochsUnsupported

	case message.UpdateVersion:
		e.encodingVersion = msg.VersionNumber
		e.buffer = append(e.buffer, message.CompressedUpdateVersion{VersionNumber: msg.VersionNumber})
		return nil

	case message.Reset:
		e.networks = nil
		e.buffer = append(e.buffer, message.CompressedReset{})
		return nil

	default:
		return fmt.Errorf("encoder: unsupported message type %T", m)
	}
}

func (e *Encoder) lastCompressed() message.Compressed {
	if len(e.buffer) == 0 {
		return nil
	}
	return e.buffer[len(e.buffer)-1]
}

func (e *Encoder) removeNetwork(index uint64) error {
	i := int(index)
	if i < 0 || i >= len(e.networks) {
		return fmt.Errorf("encoder: RegisterNetworks remove index %d out of range (len=%d)", index, len(e.networks))
	}
	last := len(e.networks) - 1
	e.networks[i] = e.networks[last]
	e.networks = e.networks[:last]
	return nil
}

func (e *Encoder) compressEmpty() {
	if len(e.buffer) > 0 {
		if empty, ok := e.buffer[len(e.buffer)-1].(message.Empty); ok {
			e.buffer[len(e.buffer)-1] = message.Empty{Count: empty.Count + 1}
			return
		}
	}
	e.buffer = append(e.buffer, message.Empty{Count: 1})
}

func (e *Encoder) compressNonEmpty(blockPtrs map[string]message.BlockPtr) error {
	type resolved struct {
		index int
		ptr   message.BlockPtr
	}
	resolvedPtrs := make([]resolved, 0, len(blockPtrs))
	for chainID, ptr := range blockPtrs {
		idx := e.indexOf(chainID)
		if idx < 0 {
			return &ErrUnknownNetwork{ChainID: chainID}
		}
		resolvedPtrs = append(resolvedPtrs, resolved{index: idx, ptr: ptr})
	}
	sort.Slice(resolvedPtrs, func(i, j int) bool { return resolvedPtrs[i].index < resolvedPtrs[j].index })

	accelerations := make([]int64, 0, len(resolvedPtrs))
	leaves := make([]merkle.Leaf, 0, len(resolvedPtrs))
	for _, r := range resolvedPtrs {
		state := e.networks[r.index].State
		if r.ptr.Number < state.BlockNumber {
			return &ErrNegativeDelta{
				ChainID:  e.networks[r.index].ChainID,
				Previous: state.BlockNumber,
				Next:     r.ptr.Number,
			}
		}
		delta := int64(r.ptr.Number - state.BlockNumber)
		acceleration := delta - state.BlockDelta

		e.networks[r.index].State = NetworkState{BlockNumber: r.ptr.Number, BlockDelta: delta}

		accelerations = append(accelerations, acceleration)
		leaves = append(leaves, merkle.Leaf{
			NetworkIndex: uint64(r.index),
			BlockNumber:  r.ptr.Number,
			BlockHash:    r.ptr.Hash,
		})
	}

	e.buffer = append(e.buffer, message.NonEmpty{
		Accelerations: accelerations,
		Root:          merkle.Root(leaves),
	})
	return nil
}

func (e *Encoder) indexOf(chainID string) int {
	for i, n := range e.networks {
		if n.ChainID == chainID {
			return i
		}
	}
	return -1
}

// serialize writes the wire format for a full batch of compressed
// messages: blocks of up to two messages, each preceded by a one-byte
// preamble packing two 4-bit tags low-to-high.
func serialize(messages []message.Compressed) []byte {
	var out []byte
	for start := 0; start < len(messages); start += 2 {
		end := start + 2
		if end > len(messages) {
			end = len(messages)
		}
		chunk := messages[start:end]

		var preamble byte
		for i, m := range chunk {
			preamble |= byte(message.TagOf(m)) << uint(4*i)
		}
		out = append(out, preamble)

		for _, m := range chunk {
			out = serializeMessage(m, out)
		}
	}
	return out
}

func serializeMessage(m message.Compressed, out []byte) []byte {
	switch msg := m.(type) {
	case message.Empty:
		return varint.AppendUvarint(out, msg.Count)

	case message.NonEmpty:
		out = append(out, msg.Root[:]...)
		for _, acc := range msg.Accelerations {
			out = varint.AppendVarint(out, acc)
		}
		return out

	case message.CompressedRegisterNetworks:
		out = varint.AppendUvarint(out, uint64(len(msg.Remove)))
		for _, idx := range msg.Remove {
			out = varint.AppendUvarint(out, idx)
		}
		out = varint.AppendUvarint(out, uint64(len(msg.Add)))
		for _, name := range msg.Add {
			out = varint.AppendUvarint(out, uint64(len(name)))
			out = append(out, name...)
		}
		return out

	case message.CompressedUpdateVersion:
		return varint.AppendUvarint(out, msg.VersionNumber)

	case message.CompressedReset:
		return varint.AppendUvarint(out, 0)

	case message.CompressedCorrectEpochs:
		// Encoding intentionally unspecified; see ErrCorrectEpochsUnsupported.
		panic(ErrCorrectEpochsUnsupported)

	default:
		panic(fmt.Sprintf("encoder: unsupported compressed message type %T", m))
	}
}
