package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphprotocol/block-oracle-go/internal/message"
	"github.com/graphprotocol/block-oracle-go/internal/varint"
)

func hashOf(b byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = b
	}
	return h
}

func TestEncodeEmptyRun(t *testing.T) {
	enc := New(CurrentEncodingVersion, nil)

	messages := make([]message.Message, 20)
	for i := range messages {
		messages[i] = message.SetBlockNumbersForNextEpoch{}
	}

	out, err := enc.Encode(messages)
	require.NoError(t, err)
	require.LessOrEqual(t, len(out), 2)

	require.Equal(t, message.TagSetBlockNumbersForNextEpoch, message.Tag(out[0]&0x0f))

	count, n, ok := varint.Uvarint(out[1:])
	require.True(t, ok)
	require.Equal(t, uint64(20), count)
	require.Equal(t, len(out), 1+n)
}

func TestCompressTwoLeafCommitment(t *testing.T) {
	enc := New(CurrentEncodingVersion, []InitialNetwork{
		{ChainID: "A"},
		{ChainID: "B"},
	})

	msg := message.SetBlockNumbersForNextEpoch{
		BlockPtrs: map[string]message.BlockPtr{
			"A": {Number: 10, Hash: hashOf(0x01)},
			"B": {Number: 20, Hash: hashOf(0x02)},
		},
	}

	compressed, err := enc.Compress([]message.Message{msg})
	require.NoError(t, err)
	require.Len(t, compressed, 1)

	nonEmpty, ok := compressed[0].(message.NonEmpty)
	require.True(t, ok)
	require.Equal(t, []int64{10, 20}, nonEmpty.Accelerations)
	require.NotEqual(t, [32]byte{}, nonEmpty.Root)

	networks := enc.Networks()
	require.Equal(t, NetworkState{BlockNumber: 10, BlockDelta: 10}, networks[0].State)
	require.Equal(t, NetworkState{BlockNumber: 20, BlockDelta: 20}, networks[1].State)

	enc2 := New(CurrentEncodingVersion, []InitialNetwork{{ChainID: "A"}, {ChainID: "B"}})
	compressed2, err := enc2.Compress([]message.Message{msg})
	require.NoError(t, err)
	require.Equal(t, compressed, compressed2)
}

func TestRegisterThenSet(t *testing.T) {
	enc := New(CurrentEncodingVersion, nil)

	messages := []message.Message{
		message.RegisterNetworks{Add: []string{"eip155:1", "eip155:10"}},
		message.SetBlockNumbersForNextEpoch{
			BlockPtrs: map[string]message.BlockPtr{
				"eip155:1":  {Number: 100, Hash: hashOf(0xAA)},
				"eip155:10": {Number: 50, Hash: hashOf(0xBB)},
			},
		},
	}

	compressed, err := enc.Compress(messages)
	require.NoError(t, err)
	require.Len(t, compressed, 2)

	_, ok := compressed[0].(message.CompressedRegisterNetworks)
	require.True(t, ok)

	nonEmpty, ok := compressed[1].(message.NonEmpty)
	require.True(t, ok)
	require.Equal(t, []int64{100, 50}, nonEmpty.Accelerations)

	require.Len(t, enc.Networks(), 2)
}

func TestRegisterNetworksSwapRemove(t *testing.T) {
	enc := New(CurrentEncodingVersion, []InitialNetwork{
		{ChainID: "n0"},
		{ChainID: "n1"},
		{ChainID: "n2"},
	})

	_, err := enc.Compress([]message.Message{
		message.RegisterNetworks{Remove: []uint64{0}, Add: []string{"X"}},
	})
	require.NoError(t, err)

	networks := enc.Networks()
	require.Len(t, networks, 3)
	require.Equal(t, "n2", networks[0].ChainID)
	require.Equal(t, "n1", networks[1].ChainID)
	require.Equal(t, "X", networks[2].ChainID)
}

func TestVarintGolden(t *testing.T) {
	require.Equal(t, []byte{84, 175, 177}, varint.AppendUvarint(nil, 1455594))
}

func TestEmptyRunsCoalesce(t *testing.T) {
	enc := New(CurrentEncodingVersion, nil)
	messages := make([]message.Message, 5)
	for i := range messages {
		messages[i] = message.SetBlockNumbersForNextEpoch{}
	}
	compressed, err := enc.Compress(messages)
	require.NoError(t, err)
	require.Len(t, compressed, 1)
	require.Equal(t, message.Empty{Count: 5}, compressed[0])
}

func TestUnknownNetworkError(t *testing.T) {
	enc := New(CurrentEncodingVersion, nil)
	_, err := enc.Compress([]message.Message{
		message.SetBlockNumbersForNextEpoch{
			BlockPtrs: map[string]message.BlockPtr{"ghost": {Number: 1}},
		},
	})
	var target *ErrUnknownNetwork
	require.ErrorAs(t, err, &target)
	require.Equal(t, "ghost", target.ChainID)
}

func TestNegativeDeltaError(t *testing.T) {
	enc := New(CurrentEncodingVersion, []InitialNetwork{
		{ChainID: "A", State: NetworkState{BlockNumber: 100}},
	})
	_, err := enc.Compress([]message.Message{
		message.SetBlockNumbersForNextEpoch{
			BlockPtrs: map[string]message.BlockPtr{"A": {Number: 50}},
		},
	})
	var target *ErrNegativeDelta
	require.ErrorAs(t, err, &target)
}

func TestMessageAfterUpdateVersionRejected(t *testing.T) {
	enc := New(CurrentEncodingVersion, nil)
	_, err := enc.Compress([]message.Message{
		message.UpdateVersion{VersionNumber: 1},
		message.Reset{},
	})
	require.ErrorIs(t, err, ErrMessageAfterUpdateVersion)
}

func TestUpdateVersionUpdatesEncoderState(t *testing.T) {
	enc := New(CurrentEncodingVersion, nil)
	_, err := enc.Compress([]message.Message{message.UpdateVersion{VersionNumber: 7}})
	require.NoError(t, err)
	require.Equal(t, uint64(7), enc.EncodingVersion())
}

func TestResetClearsNetworks(t *testing.T) {
	enc := New(CurrentEncodingVersion, []InitialNetwork{{ChainID: "A"}})
	_, err := enc.Compress([]message.Message{message.Reset{}})
	require.NoError(t, err)
	require.Len(t, enc.Networks(), 0)
}

func TestPreambleLowNibbleMatchesFirstMessageTag(t *testing.T) {
	enc := New(CurrentEncodingVersion, []InitialNetwork{{ChainID: "A"}})
	out, err := enc.Encode([]message.Message{
		message.RegisterNetworks{Add: []string{"B"}},
	})
	require.NoError(t, err)
	require.Equal(t, message.TagRegisterNetworks, message.Tag(out[0]&0x0f))
}

func TestMonotonicBlockNumbers(t *testing.T) {
	enc := New(CurrentEncodingVersion, []InitialNetwork{{ChainID: "A"}})

	prev := uint64(0)
	for _, n := range []uint64{10, 15, 15, 30} {
		compressed, err := enc.Compress([]message.Message{
			message.SetBlockNumbersForNextEpoch{
				BlockPtrs: map[string]message.BlockPtr{"A": {Number: n}},
			},
		})
		require.NoError(t, err)
		ne := compressed[0].(message.NonEmpty)
		_ = ne
		state := enc.Networks()[0].State
		require.Equal(t, n, state.BlockNumber)
		require.GreaterOrEqual(t, state.BlockNumber, prev)
		prev = state.BlockNumber
	}
}

func TestEncodeDeterministic(t *testing.T) {
	build := func() []byte {
		enc := New(CurrentEncodingVersion, []InitialNetwork{{ChainID: "A"}, {ChainID: "B"}})
		out, err := enc.Encode([]message.Message{
			message.SetBlockNumbersForNextEpoch{
				BlockPtrs: map[string]message.BlockPtr{
					"A": {Number: 10, Hash: hashOf(1)},
					"B": {Number: 20, Hash: hashOf(2)},
				},
			},
		})
		require.NoError(t, err)
		return out
	}
	require.Equal(t, build(), build())
}
