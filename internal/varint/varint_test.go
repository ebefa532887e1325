package varint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func uvarintVectors() []struct {
	value uint64
	bytes []byte
} {
	return []struct {
		value uint64
		bytes []byte
	}{
		{0, []byte{1}},
		{23, []byte{47}},
		{9000, []byte{162, 140}},
		{1455594, []byte{84, 175, 177}},
		{109771541, []byte{88, 177, 175, 104}},
		{24345908991, []byte{240, 223, 34, 100, 181}},
		{1903269233213, []byte{96, 143, 240, 235, 200, 110}},
		{72057594037927935, []byte{128, 255, 255, 255, 255, 255, 255, 255}},
		{math.MaxUint64, []byte{0, 255, 255, 255, 255, 255, 255, 255, 255}},
	}
}

func TestAppendUvarintGoldenVectors(t *testing.T) {
	for _, tc := range uvarintVectors() {
		got := AppendUvarint(nil, tc.value)
		require.Equal(t, tc.bytes, got, "value=%d", tc.value)
	}
}

func TestUvarintRoundTripGoldenVectors(t *testing.T) {
	for _, tc := range uvarintVectors() {
		v, n, ok := Uvarint(tc.bytes)
		require.True(t, ok)
		require.Equal(t, len(tc.bytes), n)
		require.Equal(t, tc.value, v)
	}
}

func TestUvarintRoundTripExhaustive(t *testing.T) {
	values := []uint64{
		0, 1, 2, 63, 64, 127, 128, 255, 256, 16383, 16384,
		math.MaxUint8, math.MaxUint16, math.MaxUint32,
		1 << 20, 1 << 27, 1 << 28, 1 << 34, 1 << 35, 1 << 41, 1 << 42,
		1 << 48, 1 << 49, 1<<56 - 1, 1 << 56, 1<<63 - 1, 1 << 63, math.MaxUint64,
	}
	for _, v := range values {
		buf := AppendUvarint(nil, v)
		got, n, ok := Uvarint(buf)
		require.True(t, ok, "value=%d", v)
		require.Equal(t, len(buf), n)
		require.Equal(t, v, got, "value=%d", v)
	}
}

func TestUvarintTruncated(t *testing.T) {
	buf := AppendUvarint(nil, 1903269233213)
	for i := 0; i < len(buf); i++ {
		_, _, ok := Uvarint(buf[:i])
		require.False(t, ok, "truncated at %d bytes should fail", i)
	}
	_, _, ok := Uvarint(nil)
	require.False(t, ok)
}

func TestZigZagGoldenVectors(t *testing.T) {
	cases := []struct {
		unsigned uint64
		signed   int64
	}{
		{0, 0},
		{1, -1},
		{4294967294, 2147483647},
		{math.MaxUint64, math.MinInt64},
	}
	for _, tc := range cases {
		encodedSigned := AppendVarint(nil, tc.signed)
		encodedUnsigned := AppendUvarint(nil, tc.unsigned)
		require.Equal(t, encodedUnsigned, encodedSigned, "signed=%d unsigned=%d", tc.signed, tc.unsigned)
	}
}

func TestVarintRoundTripExhaustive(t *testing.T) {
	values := []int64{
		0, 1, -1, 2, -2, math.MaxInt32, math.MinInt32,
		math.MaxInt64, math.MinInt64, 12345, -12345,
	}
	for _, v := range values {
		buf := AppendVarint(nil, v)
		got, n, ok := Varint(buf)
		require.True(t, ok)
		require.Equal(t, len(buf), n)
		require.Equal(t, v, got)
	}
}
