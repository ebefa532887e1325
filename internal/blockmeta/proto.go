package blockmeta

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype under which the hand-rolled wire
// codec below is registered. sf.blockmeta.v2's three request/response
// messages are small and fixed enough that a generated protoc-gen-go
// stub buys nothing a direct proto3 wire encoding doesn't already give us.
const codecName = "blockmeta-raw-proto"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// emptyMsg marshals to the empty sf.blockmeta.v2.Empty message.
type emptyMsg struct{}

// numToIDReq mirrors sf.blockmeta.v2.NumToIdReq: a single block number
// field, since each Client is already scoped to one chain's endpoint.
type numToIDReq struct {
	BlockNum uint64
}

// blockResp mirrors sf.blockmeta.v2.BlockResp.
type blockResp struct {
	ID         string
	Num        uint64
	PreviousID string
}

// rawCodec implements google.golang.org/grpc/encoding.Codec directly
// against the three message types above, bypassing protobuf reflection.
type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *emptyMsg:
		return nil, nil
	case *numToIDReq:
		var buf []byte
		buf = appendProtoUint64(buf, 1, m.BlockNum)
		return buf, nil
	default:
		return nil, fmt.Errorf("blockmeta: cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *blockResp:
		resp, err := unmarshalBlockResp(data)
		if err != nil {
			return err
		}
		*m = resp
		return nil
	default:
		return fmt.Errorf("blockmeta: cannot unmarshal into %T", v)
	}
}

func unmarshalBlockResp(data []byte) (blockResp, error) {
	var resp blockResp
	for len(data) > 0 {
		tag, n, ok := readProtoVarint(data)
		if !ok {
			return resp, errors.New("blockmeta: truncated field tag")
		}
		data = data[n:]
		fieldNum := tag >> 3
		wireType := tag & 7

		switch wireType {
		case 0:
			v, n, ok := readProtoVarint(data)
			if !ok {
				return resp, errors.New("blockmeta: truncated varint field")
			}
			data = data[n:]
			if fieldNum == 2 {
				resp.Num = v
			}
		case 2:
			length, n, ok := readProtoVarint(data)
			if !ok {
				return resp, errors.New("blockmeta: truncated length-delimited field")
			}
			data = data[n:]
			if length > uint64(len(data)) {
				return resp, errors.New("blockmeta: length-delimited field overruns message")
			}
			val := data[:length]
			data = data[length:]
			switch fieldNum {
			case 1:
				resp.ID = string(val)
			case 3:
				resp.PreviousID = string(val)
			}
		default:
			return resp, fmt.Errorf("blockmeta: unsupported wire type %d for field %d", wireType, fieldNum)
		}
	}
	return resp, nil
}

// appendProtoVarint appends v as a proto3 base-128 varint.
func appendProtoVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// appendProtoUint64 appends a varint-wire-type field: tag then value.
func appendProtoUint64(dst []byte, fieldNum int, v uint64) []byte {
	dst = appendProtoVarint(dst, uint64(fieldNum<<3)|0)
	return appendProtoVarint(dst, v)
}

// readProtoVarint reads a base-128 varint from the front of buf.
func readProtoVarint(buf []byte) (v uint64, n int, ok bool) {
	var shift uint
	for i, b := range buf {
		if shift >= 64 {
			return 0, 0, false
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, true
		}
		shift += 7
	}
	return 0, 0, false
}
