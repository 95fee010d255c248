package wire

import (
	"github.com/ventosilenzioso/netrelay/neterr"
)

// QUIC-style variable-length unsigned integer encoding: the two high bits of
// the first byte select a 1/2/4/8-byte length, and the remaining bits (plus
// any following bytes) carry the value big-endian.
const (
	varint1ByteMax = 1<<6 - 1
	varint2ByteMax = 1<<14 - 1
	varint4ByteMax = 1<<30 - 1
	varint8ByteMax = 1<<62 - 1
)

// putVarint appends the varint encoding of v to dst and returns the result.
func putVarint(dst []byte, v uint64) []byte {
	switch {
	case v <= varint1ByteMax:
		return append(dst, byte(v))
	case v <= varint2ByteMax:
		return append(dst, byte(v>>8)|0x40, byte(v))
	case v <= varint4ByteMax:
		return append(dst, byte(v>>24)|0x80, byte(v>>16), byte(v>>8), byte(v))
	case v <= varint8ByteMax:
		return append(dst,
			byte(v>>56)|0xC0, byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		panic("wire: varint value exceeds 62 bits")
	}
}

// varintLen returns the number of bytes putVarint would emit for v.
func varintLen(v uint64) int {
	switch {
	case v <= varint1ByteMax:
		return 1
	case v <= varint2ByteMax:
		return 2
	case v <= varint4ByteMax:
		return 4
	default:
		return 8
	}
}

// readVarint decodes a varint from the front of src, returning the value,
// the number of bytes consumed, and an error if src is too short.
func readVarint(src []byte) (uint64, int, error) {
	if len(src) < 1 {
		return 0, 0, errShortBuffer
	}
	length := 1 << (src[0] >> 6)
	if len(src) < length {
		return 0, 0, errShortBuffer
	}
	v := uint64(src[0] & 0x3F)
	for i := 1; i < length; i++ {
		v = v<<8 | uint64(src[i])
	}
	return v, length, nil
}

var errShortBuffer = neterr.New(neterr.KindPacketDeserialization, "varint: short buffer")
