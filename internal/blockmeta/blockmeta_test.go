package blockmeta

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestIsTransientCode(t *testing.T) {
	require.True(t, isTransientCode(codes.Unavailable))
	require.True(t, isTransientCode(codes.DeadlineExceeded))
	require.True(t, isTransientCode(codes.ResourceExhausted))
	require.True(t, isTransientCode(codes.Aborted))
	require.False(t, isTransientCode(codes.InvalidArgument))
	require.False(t, isTransientCode(codes.PermissionDenied))
	require.False(t, isTransientCode(codes.OK))
}

func TestBearerCredentialMetadata(t *testing.T) {
	cred := bearerCredential{token: "secret-token", requireTransport: true}
	md, err := cred.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bearer secret-token", md["authorization"])
	require.True(t, cred.RequireTransportSecurity())
}

func TestBearerCredentialInsecureAllowsPlaintext(t *testing.T) {
	cred := bearerCredential{token: "t", requireTransport: false}
	require.False(t, cred.RequireTransportSecurity())
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	require.Equal(t, 60*time.Second, opts.MaxElapsedTime)
}

func TestAppendAndReadProtoVarint(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)} {
		encoded := appendProtoVarint(nil, v)
		got, n, ok := readProtoVarint(encoded)
		require.True(t, ok)
		require.Equal(t, len(encoded), n)
		require.Equal(t, v, got)
	}
}

func TestUnmarshalBlockResp(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x0a, 4)
	buf = append(buf, "0xab"...)
	buf = appendProtoUint64(buf, 2, 123456)
	buf = append(buf, 0x1a, 4)
	buf = append(buf, "0xcd"...)

	resp, err := unmarshalBlockResp(buf)
	require.NoError(t, err)
	require.Equal(t, "0xab", resp.ID)
	require.Equal(t, uint64(123456), resp.Num)
	require.Equal(t, "0xcd", resp.PreviousID)
}

func TestUnmarshalBlockRespTruncated(t *testing.T) {
	_, err := unmarshalBlockResp([]byte{0x0a, 10, 'x'})
	require.Error(t, err)
}

func TestRawCodecRoundTrip(t *testing.T) {
	var codec rawCodec
	require.Equal(t, codecName, codec.Name())

	reqBytes, err := codec.Marshal(&numToIDReq{BlockNum: 42})
	require.NoError(t, err)

	var resp blockResp
	respBytes := appendProtoUint64(append([]byte{0x0a, 4}, "0xff"...), 2, 42)
	require.NoError(t, codec.Unmarshal(respBytes, &resp))
	require.Equal(t, uint64(42), resp.Num)
	require.Equal(t, "0xff", resp.ID)

	// the request encodes its block number as field 1.
	require.NotEmpty(t, reqBytes)
}

func TestBlockFromResp(t *testing.T) {
	block := blockFromResp(blockResp{ID: "0x01", Num: 7})
	require.Equal(t, uint64(7), block.Number)
	require.Equal(t, common.HexToHash("0x01"), block.Hash)
}
