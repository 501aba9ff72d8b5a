package dw1000

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	resetHoldTime  = 2 * time.Millisecond
	resetReadyTime = 10 * time.Millisecond

	maxHeaderLen = 3
	maxOffset    = 1<<15 - 1
)

// Bus performs register transactions against the transceiver.
// It has no protocol knowledge. Every method is one locked transaction, apart
// from UpdateRegister which holds the lock across its read and write.
// This type is concurrent safe.
type Bus struct {
	conn  SPI
	rst   Pin
	clock Clock

	mu      sync.Mutex
	scratch [maxHeaderLen + _RX_BUFFER_LEN]byte
}

// NewBus returns a Bus talking over conn. reset is the RSTn line; it may be
// nil, in which case Reset fails.
func NewBus(conn SPI, reset Pin, clock Clock) *Bus {
	if clock == nil {
		clock = RealClock{}
	}
	return &Bus{conn: conn, rst: reset, clock: clock}
}

// Reset pulses RSTn low, releases it, waits for the device to come up and
// checks DEV_ID. A device that does not identify itself is a hardware fault.
func (b *Bus) Reset() error {
	if b.rst == nil {
		return fmt.Errorf("%w: %w: reset pin not configured", ErrPkg, ErrHardwareFault)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.rst.Out(Low); err != nil {
		return hardwareFault("reset low", err)
	}
	b.clock.Sleep(resetHoldTime)
	if err := b.rst.Out(High); err != nil {
		return hardwareFault("reset release", err)
	}
	b.clock.Sleep(resetReadyTime)

	id, err := b.read(_DEV_ID, 0, _DEV_ID_LEN)
	if err != nil {
		return err
	}
	if id.Uint64() != _DEV_ID_DW1000 {
		return fmt.Errorf("%w: %w: unexpected DEV_ID %s after reset", ErrPkg, ErrHardwareFault, id.BigEndian())
	}
	return nil
}

// ReadRegister reads n bytes of register reg from offset 0.
func (b *Bus) ReadRegister(reg byte, n int) (RegisterValue, error) {
	if err := checkRange(reg, 0, n, n); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(reg, 0, n)
}

// WriteRegister writes data into register reg from offset 0.
func (b *Bus) WriteRegister(reg byte, data RegisterValue) error {
	if err := checkRange(reg, 0, len(data), len(data)); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(reg, 0, data)
}

// ReadSubregister reads subLen bytes at offset inside a registerLen-byte
// register.
func (b *Bus) ReadSubregister(reg byte, offset, registerLen, subLen int) (RegisterValue, error) {
	if err := checkRange(reg, offset, subLen, registerLen); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(reg, offset, subLen)
}

// WriteSubregister writes data at offset inside a registerLen-byte register.
// Bytes outside [offset, offset+len(data)) are not touched.
func (b *Bus) WriteSubregister(reg byte, offset, registerLen int, data RegisterValue) error {
	if err := checkRange(reg, offset, len(data), registerLen); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(reg, offset, data)
}

// ReadUint reads an n-byte little-endian integer at offset.
func (b *Bus) ReadUint(reg byte, offset, registerLen, n int) (uint64, error) {
	if n > 8 {
		return 0, invalidArgument("%d-byte integer does not fit in 64 bits", n)
	}
	v, err := b.ReadSubregister(reg, offset, registerLen, n)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// WriteUint writes value as an n-byte little-endian integer at offset.
func (b *Bus) WriteUint(reg byte, offset, registerLen, n int, value uint64) error {
	if n > 8 {
		return invalidArgument("%d-byte integer does not fit in 64 bits", n)
	}
	return b.WriteSubregister(reg, offset, registerLen, uintToRegister(value, n))
}

// UpdateRegister reads the first n bytes of reg, passes them to fn and writes
// the result back, holding the bus for the whole read-modify-write.
func (b *Bus) UpdateRegister(reg byte, n int, fn func(RegisterValue) (RegisterValue, error)) error {
	if err := checkRange(reg, 0, n, n); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	v, err := b.read(reg, 0, n)
	if err != nil {
		return err
	}
	v, err = fn(v)
	if err != nil {
		return err
	}
	if len(v) != n {
		return invalidArgument("update of register 0x%02X changed its length from %d to %d", reg, n, len(v))
	}
	return b.write(reg, 0, v)
}

// BigEndianView reads a register and returns it most significant byte first.
// The result is for diagnostics only.
func (b *Bus) BigEndianView(reg byte, n int) (BigEndianView, error) {
	v, err := b.ReadRegister(reg, n)
	if err != nil {
		return nil, err
	}
	return v.BigEndian(), nil
}

// ClearStatusBits writes a mask with the given bits set to a
// write-1-to-clear register. Every index is validated before the bus is
// touched.
func (b *Bus) ClearStatusBits(reg byte, registerLen int, bits ...int) error {
	mask := make(RegisterValue, registerLen)
	for _, bit := range bits {
		var err error
		if mask, err = mask.WithBit(bit, true); err != nil {
			return err
		}
	}
	return b.WriteRegister(reg, mask)
}

// DumpRegister formats a register in native hex, big-endian hex and binary.
func (b *Bus) DumpRegister(reg byte, n int, name string) (string, error) {
	v, err := b.ReadRegister(reg, n)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s register (0x%02X):\n", name, reg)
	fmt.Fprintf(&sb, "Hex value (little-endian, device native): %s\n", v)
	fmt.Fprintf(&sb, "Hex value (big-endian): %s\n", v.BigEndian())
	fmt.Fprintf(&sb, "Binary value (big-endian):\n%s\n", v.BigEndian().Bits())
	return sb.String(), nil
}

// --- Raw transactions. Call with lock held. ---

func (b *Bus) read(reg byte, offset, n int) (RegisterValue, error) {
	h := b.header(reg, offset, false)
	frame := b.scratch[:h+n]
	for i := h; i < len(frame); i++ {
		frame[i] = 0
	}
	if err := b.conn.Tx(frame, frame); err != nil {
		globalLogger.Error("SPI read failed")
		return nil, hardwareFault(fmt.Sprintf("read 0x%02X:%d", reg, offset), err)
	}
	out := make(RegisterValue, n)
	copy(out, frame[h:])
	return out, nil
}

func (b *Bus) write(reg byte, offset int, data []byte) error {
	h := b.header(reg, offset, true)
	frame := b.scratch[:h+len(data)]
	copy(frame[h:], data)
	if err := b.conn.Tx(frame, frame); err != nil {
		globalLogger.Error("SPI write failed")
		return hardwareFault(fmt.Sprintf("write 0x%02X:%d", reg, offset), err)
	}
	return nil
}

// header encodes the transaction header into scratch and returns its length.
// Offset 0 uses the one-byte form; other offsets add one or two
// sub-address bytes.
func (b *Bus) header(reg byte, offset int, write bool) int {
	h := reg & _HDR_REG
	if write {
		h |= _HDR_WRITE
	}
	if offset == 0 {
		b.scratch[0] = h
		return 1
	}
	b.scratch[0] = h | _HDR_SUBADDR
	if offset < 0x80 {
		b.scratch[1] = byte(offset)
		return 2
	}
	b.scratch[1] = _HDR_EXT | byte(offset&0x7F)
	b.scratch[2] = byte(offset >> 7)
	return 3
}

func checkRange(reg byte, offset, n, registerLen int) error {
	switch {
	case reg > _HDR_REG:
		return invalidArgument("register 0x%02X out of range", reg)
	case n <= 0 || n > _RX_BUFFER_LEN:
		return invalidArgument("length %d out of range for register 0x%02X", n, reg)
	case offset < 0 || offset > maxOffset:
		return invalidArgument("offset %d out of range for register 0x%02X", offset, reg)
	case offset+n > registerLen:
		return invalidArgument("bytes [%d,%d) exceed %d-byte register 0x%02X", offset, offset+n, registerLen, reg)
	}
	return nil
}
