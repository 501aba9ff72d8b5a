package dw1000

import (
	"encoding/hex"
	"strings"
)

// RegisterValue holds register contents exactly as they travel on the bus:
// least significant byte first. All numeric work (timestamps, lengths,
// sequence numbers) is done on this view.
type RegisterValue []byte

// Uint64 decodes up to the first 8 bytes as a little-endian integer.
func (v RegisterValue) Uint64() uint64 {
	var n uint64
	for i := len(v) - 1; i >= 0; i-- {
		if i >= 8 {
			continue
		}
		n = n<<8 | uint64(v[i])
	}
	return n
}

// Bit reports bit index of the value, counted from the least significant bit.
func (v RegisterValue) Bit(index int) (bool, error) {
	if index < 0 || index >= 8*len(v) {
		return false, invalidArgument("bit %d outside %d-byte register", index, len(v))
	}
	return v[index/8]&(1<<(index%8)) != 0, nil
}

// WithBit returns a copy of v with bit index set or cleared.
func (v RegisterValue) WithBit(index int, on bool) (RegisterValue, error) {
	if index < 0 || index >= 8*len(v) {
		return nil, invalidArgument("bit %d outside %d-byte register", index, len(v))
	}
	out := make(RegisterValue, len(v))
	copy(out, v)
	if on {
		out[index/8] |= 1 << (index % 8)
	} else {
		out[index/8] &^= 1 << (index % 8)
	}
	return out, nil
}

// BigEndian returns the byte-reversed view used for display.
func (v RegisterValue) BigEndian() BigEndianView {
	out := make(BigEndianView, len(v))
	for i, b := range v {
		out[len(v)-1-i] = b
	}
	return out
}

// String renders the native bytes as hex.
func (v RegisterValue) String() string {
	return "0x" + hex.EncodeToString(v)
}

func uintToRegister(n uint64, size int) RegisterValue {
	out := make(RegisterValue, size)
	for i := range out {
		out[i] = byte(n)
		n >>= 8
	}
	return out
}

// BigEndianView is a most-significant-byte-first copy of a register, the way
// the datasheet prints it. It deliberately has no numeric accessors.
type BigEndianView []byte

// String renders the view as hex.
func (b BigEndianView) String() string {
	return "0x" + hex.EncodeToString(b)
}

// Bits renders the view as binary, a space between bytes and a newline every
// 32 bits.
func (b BigEndianView) Bits() string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			if i%4 == 0 {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		for bit := 7; bit >= 0; bit-- {
			if c&(1<<bit) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}
