package dw1000

import (
	"encoding/binary"
	"fmt"
)

// FrameType is the 3-bit frame type field of the frame control word.
type FrameType uint8

const (
	FrameBeacon     FrameType = 0
	FrameData       FrameType = 1
	FrameAck        FrameType = 2
	FrameMACCommand FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameBeacon:
		return "beacon"
	case FrameData:
		return "data"
	case FrameAck:
		return "ack"
	case FrameMACCommand:
		return "mac-command"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(t))
	}
}

// AddrMode is the 2-bit addressing mode field. It is always derived from the
// width of an Address.
type AddrMode uint8

const (
	AddrModeNone     AddrMode = 0
	AddrModeShort    AddrMode = 2
	AddrModeExtended AddrMode = 3
)

// Frame control word layout.
const (
	_FC_TYPE_MASK      = 0x07
	_FC_SECURITY       = 1 << 3
	_FC_PENDING        = 1 << 4
	_FC_ACK_REQUEST    = 1 << 5
	_FC_PANID_COMPRESS = 1 << 6
	_FC_DST_MODE       = 10
	_FC_SRC_MODE       = 14
)

const (
	// FCSLen is the frame check sequence appended by the transmitter.
	FCSLen = 2
	// MaxFrameLen is the largest standard PHY payload, FCS included.
	MaxFrameLen = 127

	frameControlLen = 2
	seqLen          = 1
	panLen          = 2

	// DstFieldOffset is where the destination PAN starts in every frame that
	// carries addressing.
	DstFieldOffset = frameControlLen + seqLen

	broadcastShort = 0xFFFF
)

// Address is a device address inside a PAN. Short addresses are 16 bits and
// extended addresses 64 bits; the width fixes the addressing mode.
type Address struct {
	PAN   uint16
	value uint64
	width uint8
}

// ShortAddress returns a 16-bit address in pan.
func ShortAddress(pan, addr uint16) Address {
	return Address{PAN: pan, value: uint64(addr), width: 2}
}

// ExtendedAddress returns a 64-bit address in pan.
func ExtendedAddress(pan uint16, addr uint64) Address {
	return Address{PAN: pan, value: addr, width: 8}
}

// BroadcastAddress returns the short broadcast address of pan.
func BroadcastAddress(pan uint16) Address {
	return ShortAddress(pan, broadcastShort)
}

// AddressFromBytes builds an address from its little-endian wire bytes.
func AddressFromBytes(pan uint16, b []byte) (Address, error) {
	switch len(b) {
	case 2:
		return ShortAddress(pan, binary.LittleEndian.Uint16(b)), nil
	case 8:
		return ExtendedAddress(pan, binary.LittleEndian.Uint64(b)), nil
	default:
		return Address{}, invalidArgument("address width %d, want 2 or 8", len(b))
	}
}

// Width returns the address width in bytes: 2, 8, or 0 for the zero Address.
func (a Address) Width() int { return int(a.width) }

// Value returns the address as an integer.
func (a Address) Value() uint64 { return a.value }

// Mode returns the addressing mode matching the width.
func (a Address) Mode() AddrMode {
	switch a.width {
	case 2:
		return AddrModeShort
	case 8:
		return AddrModeExtended
	default:
		return AddrModeNone
	}
}

// IsBroadcast reports whether a is the short broadcast address.
func (a Address) IsBroadcast() bool {
	return a.width == 2 && a.value == broadcastShort
}

// Bytes returns the little-endian wire form of the address.
func (a Address) Bytes() []byte {
	b := make([]byte, a.width)
	for i := range b {
		b[i] = byte(a.value >> (8 * i))
	}
	return b
}

func (a Address) String() string {
	switch a.width {
	case 2:
		return fmt.Sprintf("%04X:%04X", a.PAN, a.value)
	case 8:
		return fmt.Sprintf("%04X:%016X", a.PAN, a.value)
	default:
		return "none"
	}
}

func (a Address) valid() error {
	if a.width != 2 && a.width != 8 {
		return invalidArgument("address width %d, want 2 or 8", a.width)
	}
	return nil
}

// FrameFlags are the single-bit options of the frame control word.
type FrameFlags struct {
	Security      bool
	FramePending  bool
	AckRequest    bool
	PANIDCompress bool
}

// Frame is a MAC frame without its FCS. Ack frames carry no addressing and
// leave Dst and Src zero.
type Frame struct {
	Type    FrameType
	Flags   FrameFlags
	Seq     uint8
	Dst     Address
	Src     Address
	Payload []byte
}

// control returns the frame control word.
func (f Frame) control() uint16 {
	fc := uint16(f.Type) & _FC_TYPE_MASK
	if f.Flags.Security {
		fc |= _FC_SECURITY
	}
	if f.Flags.FramePending {
		fc |= _FC_PENDING
	}
	if f.Flags.AckRequest {
		fc |= _FC_ACK_REQUEST
	}
	if f.Flags.PANIDCompress {
		fc |= _FC_PANID_COMPRESS
	}
	fc |= uint16(f.Dst.Mode()) << _FC_DST_MODE
	fc |= uint16(f.Src.Mode()) << _FC_SRC_MODE
	return fc
}

// EncodeFrame serializes f: control word, sequence, destination PAN and
// address, source PAN unless compressed, source address, payload.
func EncodeFrame(f Frame) ([]byte, error) {
	if f.Type == FrameAck {
		out := make([]byte, frameControlLen+seqLen, frameControlLen+seqLen+len(f.Payload))
		binary.LittleEndian.PutUint16(out, f.control())
		out[2] = f.Seq
		return append(out, f.Payload...), nil
	}
	if err := f.Dst.valid(); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if err := f.Src.valid(); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if f.Flags.PANIDCompress && f.Dst.PAN != f.Src.PAN {
		return nil, invalidArgument("PAN ID compression with different PANs %04X and %04X", f.Dst.PAN, f.Src.PAN)
	}

	size := frameControlLen + seqLen + panLen + f.Dst.Width() + f.Src.Width() + len(f.Payload)
	if !f.Flags.PANIDCompress {
		size += panLen
	}
	if size+FCSLen > MaxFrameLen {
		return nil, invalidArgument("frame of %d bytes exceeds %d", size+FCSLen, MaxFrameLen)
	}

	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint16(out, f.control())
	out = append(out, f.Seq)
	out = binary.LittleEndian.AppendUint16(out, f.Dst.PAN)
	out = append(out, f.Dst.Bytes()...)
	if !f.Flags.PANIDCompress {
		out = binary.LittleEndian.AppendUint16(out, f.Src.PAN)
	}
	out = append(out, f.Src.Bytes()...)
	out = append(out, f.Payload...)
	return out, nil
}

// DecodeFrame parses a received frame. b must not include the FCS.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < frameControlLen+seqLen {
		return Frame{}, invalidArgument("frame of %d bytes is too short", len(b))
	}
	fc := binary.LittleEndian.Uint16(b)
	f := Frame{
		Type: FrameType(fc & _FC_TYPE_MASK),
		Flags: FrameFlags{
			Security:      fc&_FC_SECURITY != 0,
			FramePending:  fc&_FC_PENDING != 0,
			AckRequest:    fc&_FC_ACK_REQUEST != 0,
			PANIDCompress: fc&_FC_PANID_COMPRESS != 0,
		},
		Seq: b[2],
	}
	dstMode := AddrMode(fc>>_FC_DST_MODE) & 0x03
	srcMode := AddrMode(fc>>_FC_SRC_MODE) & 0x03

	off := frameControlLen + seqLen
	if dstMode != AddrModeNone {
		w, err := modeWidth(dstMode)
		if err != nil {
			return Frame{}, err
		}
		if f.Dst, err = ParseAddressField(b, off, w); err != nil {
			return Frame{}, err
		}
		off += panLen + w
	}
	if srcMode != AddrModeNone {
		w, err := modeWidth(srcMode)
		if err != nil {
			return Frame{}, err
		}
		if f.Flags.PANIDCompress && dstMode != AddrModeNone {
			if len(b) < off+w {
				return Frame{}, invalidArgument("frame of %d bytes truncates source address", len(b))
			}
			if f.Src, err = AddressFromBytes(f.Dst.PAN, b[off:off+w]); err != nil {
				return Frame{}, err
			}
			off += w
		} else {
			if f.Src, err = ParseAddressField(b, off, w); err != nil {
				return Frame{}, err
			}
			off += panLen + w
		}
	}
	if off < len(b) {
		f.Payload = append([]byte(nil), b[off:]...)
	}
	return f, nil
}

// ParseAddressField reads a PAN identifier followed by a width-byte address
// starting at offset.
func ParseAddressField(frame []byte, offset, width int) (Address, error) {
	if width != 2 && width != 8 {
		return Address{}, invalidArgument("address width %d, want 2 or 8", width)
	}
	if offset < 0 || offset+panLen+width > len(frame) {
		return Address{}, invalidArgument("address field [%d,%d) outside %d-byte frame", offset, offset+panLen+width, len(frame))
	}
	pan := binary.LittleEndian.Uint16(frame[offset:])
	return AddressFromBytes(pan, frame[offset+panLen:offset+panLen+width])
}

// SrcFieldOffset returns where the source PAN starts when the destination
// address is dstWidth bytes wide and PAN ID compression is off.
func SrcFieldOffset(dstWidth int) int {
	return DstFieldOffset + panLen + dstWidth
}

func modeWidth(m AddrMode) (int, error) {
	switch m {
	case AddrModeShort:
		return 2, nil
	case AddrModeExtended:
		return 8, nil
	default:
		return 0, invalidArgument("reserved addressing mode %d", m)
	}
}

// StageFrame encodes f, writes its on-air length (FCS included) to TX_FCTRL
// and the bytes to the transmit buffer. It returns the encoded bytes.
// Transmission is started separately.
func (b *Bus) StageFrame(f Frame) ([]byte, error) {
	raw, err := EncodeFrame(f)
	if err != nil {
		return nil, err
	}
	if err := b.WriteUint(_TX_FCTRL, _TX_FCTRL_TFLEN, _TX_FCTRL_LEN, 1, uint64(len(raw)+FCSLen)); err != nil {
		return nil, err
	}
	if err := b.WriteRegister(_TX_BUFFER, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// BuildFrame assembles a frame from its fields and stages it for
// transmission.
func (b *Bus) BuildFrame(t FrameType, seq uint8, dst, src Address, payload []byte, flags FrameFlags) ([]byte, error) {
	return b.StageFrame(Frame{Type: t, Flags: flags, Seq: seq, Dst: dst, Src: src, Payload: payload})
}
