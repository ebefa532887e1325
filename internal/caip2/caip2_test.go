package caip2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	id, err := Parse("eip155:1")
	require.NoError(t, err)
	require.Equal(t, "eip155", id.Namespace())
	require.Equal(t, "1", id.Reference())
	require.Equal(t, "eip155:1", id.String())
}

func TestParseRejectsMissingSeparator(t *testing.T) {
	_, err := Parse("eip1551")
	require.Error(t, err)
}

func TestParseRejectsNamespaceLength(t *testing.T) {
	_, err := Parse("ei:1")
	require.Error(t, err)
	_, err = Parse("eip155extra:1")
	require.Error(t, err)
}

func TestParseRejectsReferenceLength(t *testing.T) {
	_, err := Parse("eip155:")
	require.Error(t, err)
	_, err = Parse("eip155:" + string(make([]byte, 33)))
	require.Error(t, err)
}

func TestParseRejectsInvalidCharacters(t *testing.T) {
	_, err := Parse("eip155:1$")
	require.Error(t, err)
	_, err = Parse("eip_155:1")
	require.Error(t, err)
}

func TestIsEIP155AndChainID(t *testing.T) {
	id := MustParse("eip155:137")
	require.True(t, id.IsEIP155())
	chainID, err := id.ChainID()
	require.NoError(t, err)
	require.Equal(t, uint64(137), chainID)
}

func TestChainIDRejectsNonEIP155(t *testing.T) {
	id := MustParse("cosmos:cosmoshub-4")
	require.False(t, id.IsEIP155())
	_, err := id.ChainID()
	require.Error(t, err)
}

func TestTextMarshalRoundTrip(t *testing.T) {
	id := MustParse("eip155:42161")
	text, err := id.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "eip155:42161", string(text))

	var decoded ID
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, id, decoded)
}
