package dw1000

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockPin struct {
	mu         sync.Mutex
	level      Level
	pull       Pull
	outs       []Level
	edge       Edge
	handler    func()
	watchCalls int
	outErr     error
	onOut      func(Level)
}

func (m *mockPin) Out(l Level) error {
	m.mu.Lock()
	if m.outErr != nil {
		m.mu.Unlock()
		return m.outErr
	}
	m.level = l
	m.outs = append(m.outs, l)
	cb := m.onOut
	m.mu.Unlock()
	if cb != nil {
		cb(l)
	}
	return nil
}

func (m *mockPin) In(pull Pull) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pull = pull
	return nil
}

func (m *mockPin) Read() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *mockPin) Watch(edge Edge, handler func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edge = edge
	m.handler = handler
	m.watchCalls++
	return nil
}

func (m *mockPin) Unwatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
	return nil
}

// fire simulates an edge on the line.
func (m *mockPin) fire() {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h()
	}
}

// mockSPI records every transaction and answers reads from a queue.
type mockSPI struct {
	tx      [][]byte
	rxQueue [][]byte
	err     error
}

func (m *mockSPI) Tx(w, r []byte) error {
	if m.err != nil {
		return m.err
	}
	m.tx = append(m.tx, append([]byte(nil), w...))
	if len(m.rxQueue) > 0 {
		next := m.rxQueue[0]
		m.rxQueue = m.rxQueue[1:]
		copy(r, next)
	}
	return nil
}

func (m *mockSPI) queueRx(data ...byte) {
	m.rxQueue = append(m.rxQueue, data)
}

// testClock returns at once from every wait and lets the simulated chip run
// one step each time the driver would have slept.
type testClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	afters int
	onTick func()
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) func() {
	c.mu.Lock()
	c.now = c.now.Add(d)
	tick := c.onTick
	c.mu.Unlock()
	return tick
}

func (c *testClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	if tick := c.advance(d); tick != nil {
		tick()
	}
}

func (c *testClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.afters++
	c.mu.Unlock()
	if tick := c.advance(d); tick != nil {
		tick()
	}
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type recordLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+msg)
}

func (l *recordLogger) Debug(msg string) { l.add("DEBUG", msg) }
func (l *recordLogger) Info(msg string)  { l.add("INFO", msg) }
func (l *recordLogger) Warn(msg string)  { l.add("WARN", msg) }
func (l *recordLogger) Error(msg string) { l.add("ERROR", msg) }

func (l *recordLogger) contains(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+" ") && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// --- Simulated DW1000 ---

// airFrame is a frame on its way to the chip, stamped with its RX time.
type airFrame struct {
	raw   []byte
	stamp uint64
}

// peerFunc scripts the other side of the link. It sees every frame the chip
// transmits with its TX timestamp and returns frames to deliver later.
type peerFunc func(f Frame, txStamp uint64) []airFrame

const (
	fakeRegSize   = _LDE_CTRL_LEN
	fakeTxLatency = 100
	fakeAckDelay  = 100
)

// fakeChip models the DW1000 register file closely enough to run the
// ranging protocol: SPI header decoding, write-1-to-clear status, TX and RX
// with timestamps, auto-ACK, frame filtering and the IRQ line derived from
// SYS_STATUS & SYS_MASK. The IRQ edge is only raised from tick, never from
// inside a bus transaction.
type fakeChip struct {
	t   *testing.T
	irq *mockPin

	mu          sync.Mutex
	regs        map[byte][]byte
	now         uint64
	rxOn        bool
	air         []airFrame
	sent        []Frame
	acks        []uint8
	peer        peerFunc
	irqLevel    bool
	pendingEdge bool
	resets      int
	overrunNext bool
	devID       uint32
	txErr       error
	quality     [2]uint64
}

func newFakeChip(t *testing.T) *fakeChip {
	c := &fakeChip{t: t, irq: &mockPin{}, devID: _DEV_ID_DW1000}
	c.powerOn()
	return c
}

func (c *fakeChip) powerOn() {
	c.regs = map[byte][]byte{}
	copy(c.reg(_DEV_ID), uintToRegister(uint64(c.devID), _DEV_ID_LEN))
	c.rxOn = false
	c.irqLevel = false
	c.pendingEdge = false
}

func (c *fakeChip) reg(id byte) []byte {
	r, ok := c.regs[id]
	if !ok {
		r = make([]byte, fakeRegSize)
		c.regs[id] = r
	}
	return r
}

func (c *fakeChip) u64(id byte, off, n int) uint64 {
	return RegisterValue(c.reg(id)[off : off+n]).Uint64()
}

func (c *fakeChip) putU64(id byte, off, n int, v uint64) {
	copy(c.reg(id)[off:off+n], uintToRegister(v, n))
}

func (c *fakeChip) bit(id byte, bit int) bool {
	return c.reg(id)[bit/8]&(1<<(bit%8)) != 0
}

func (c *fakeChip) setBit(id byte, bit int, on bool) {
	if on {
		c.reg(id)[bit/8] |= 1 << (bit % 8)
	} else {
		c.reg(id)[bit/8] &^= 1 << (bit % 8)
	}
}

// resetPin returns the RSTn pin wired to the chip.
func (c *fakeChip) resetPin() *mockPin {
	return &mockPin{onOut: func(l Level) {
		if l == High {
			c.mu.Lock()
			c.resets++
			c.powerOn()
			c.mu.Unlock()
		}
	}}
}

func (c *fakeChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txErr != nil {
		return c.txErr
	}

	h := w[0]
	write := h&_HDR_WRITE != 0
	id := h & _HDR_REG
	off, n := 0, 1
	if h&_HDR_SUBADDR != 0 {
		off, n = int(w[1]&0x7F), 2
		if w[1]&_HDR_EXT != 0 {
			off |= int(w[2]) << 7
			n = 3
		}
	}
	data := append([]byte(nil), w[n:]...)
	require.LessOrEqual(c.t, off+len(data), fakeRegSize)

	if !write {
		copy(r[n:], c.reg(id)[off:off+len(data)])
		return nil
	}
	switch id {
	case _SYS_STATUS:
		mem := c.reg(id)
		for i, b := range data {
			mem[off+i] &^= b
		}
	case _SYS_CTRL:
		copy(c.reg(id)[off:], data)
		c.control()
	case _DEV_ID:
		// read only
	default:
		copy(c.reg(id)[off:], data)
	}
	c.updateIRQ()
	return nil
}

func (c *fakeChip) control() {
	if c.bit(_SYS_CTRL, _TRXOFF) {
		c.rxOn = false
	}
	if c.bit(_SYS_CTRL, _RXENAB) {
		c.rxOn = true
	}
	if c.bit(_SYS_CTRL, _TXSTRT) {
		c.transmit(c.bit(_SYS_CTRL, _WAIT4RESP))
	}
	for _, b := range []int{_TXSTRT, _TRXOFF, _WAIT4RESP, _RXENAB, _HRBPT} {
		c.setBit(_SYS_CTRL, b, false)
	}
}

func (c *fakeChip) transmit(waitResp bool) {
	n := int(c.u64(_TX_FCTRL, 0, 2)&_RXFLEN_MASK) - FCSLen
	raw := append([]byte(nil), c.reg(_TX_BUFFER)[:n]...)
	c.now += fakeTxLatency
	stamp := c.now
	c.putU64(_TX_TIME, 0, _TIMESTAMP_LEN, stamp)
	c.setBit(_SYS_STATUS, _TXFRS, true)

	f, err := DecodeFrame(raw)
	require.NoError(c.t, err, "chip transmitted an undecodable frame")
	c.sent = append(c.sent, f)
	if c.peer != nil {
		c.air = append(c.air, c.peer(f, stamp)...)
	}
	if waitResp {
		c.rxOn = true
	}
}

// accepts applies frame filtering the way Init configures it.
func (c *fakeChip) accepts(f Frame) bool {
	if !c.bit(_SYS_CFG, _FFEN) || f.Type == FrameAck {
		return true
	}
	pan := uint16(c.u64(_PANADR, _PANADR_PAN_ID, 2))
	if f.Dst.PAN != pan && f.Dst.PAN != broadcastShort {
		return false
	}
	switch f.Dst.Width() {
	case 2:
		return f.Dst.IsBroadcast() || f.Dst.Value() == c.u64(_PANADR, _PANADR_SHORT, 2)
	case 8:
		return f.Dst.Value() == c.u64(_EUI, 0, 8)
	}
	return false
}

func (c *fakeChip) receive(af airFrame) {
	f, err := DecodeFrame(af.raw)
	if err != nil || !c.accepts(f) {
		return
	}
	copy(c.reg(_RX_BUFFER), af.raw)
	c.putU64(_RX_FINFO, 0, 2, uint64(len(af.raw)+FCSLen))
	c.putU64(_RX_TIME, 0, _TIMESTAMP_LEN, af.stamp)
	c.putU64(_RX_FQUAL, _STD_NOISE, 2, c.quality[1])
	c.putU64(_RX_FQUAL, _FP_AMPL2, 2, c.quality[0])
	if af.stamp > c.now {
		c.now = af.stamp
	}
	for _, b := range []int{_RXDFR, _RXFCG, _LDEDONE} {
		c.setBit(_SYS_STATUS, b, true)
	}
	if c.overrunNext {
		c.setBit(_SYS_STATUS, _RXOVRR, true)
		c.overrunNext = false
	}
	if !c.bit(_SYS_CFG, _RXAUTR) {
		c.rxOn = false
	}
	if f.Flags.AckRequest && c.bit(_SYS_CFG, _AUTOACK) {
		c.now = af.stamp + fakeAckDelay
		c.putU64(_TX_TIME, 0, _TIMESTAMP_LEN, c.now)
		c.setBit(_SYS_STATUS, _TXFRS, true)
		c.acks = append(c.acks, f.Seq)
	}
}

func (c *fakeChip) updateIRQ() {
	status := c.u64(_SYS_STATUS, 0, 4)
	mask := c.u64(_SYS_MASK, 0, 4)
	level := status&mask != 0
	if level && !c.irqLevel {
		c.pendingEdge = true
	}
	c.irqLevel = level
}

// tick delivers at most one frame and raises a pending IRQ edge.
func (c *fakeChip) tick() {
	c.mu.Lock()
	if c.rxOn && len(c.air) > 0 && !c.bit(_SYS_STATUS, _RXFCG) {
		af := c.air[0]
		c.air = c.air[1:]
		c.receive(af)
		c.updateIRQ()
	}
	edge := c.pendingEdge
	c.pendingEdge = false
	c.mu.Unlock()
	if edge {
		c.irq.fire()
	}
}

func (c *fakeChip) queue(frames ...airFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.air = append(c.air, frames...)
}

func (c *fakeChip) setPeer(p peerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peer = p
}

func (c *fakeChip) sentFrames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.sent...)
}

// --- Fixtures ---

const (
	testPAN       = 0xB34A
	initiatorAddr = 0x1234
	responderAddr = 0x5678
)

type rig struct {
	dev   *Device
	chip  *fakeChip
	clock *testClock
	log   *recordLogger
	reset *mockPin
}

func newRig(t *testing.T, addr uint16, tune func(*RadioConfig)) *rig {
	t.Helper()
	chip := newFakeChip(t)
	clock := newTestClock()
	clock.onTick = chip.tick
	logger := &recordLogger{}
	reset := chip.resetPin()

	cfg := RadioConfig{
		Address:             ShortAddress(testPAN, addr),
		RangingPolls:        10,
		HandshakePolls:      10,
		ReportPolls:         10,
		TxPolls:             5,
		MaxHandshakeBackoff: time.Millisecond,
		RetryDelay:          time.Nanosecond,
		Clock:               clock,
		Logger:              logger,
	}
	if tune != nil {
		tune(&cfg)
	}
	dev, err := NewWithHardware(HardwareConfig{RadioConfig: cfg, Reset: reset, IRQ: chip.irq}, chip)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return &rig{dev: dev, chip: chip, clock: clock, log: logger, reset: reset}
}

func frameBytes(t *testing.T, f Frame) []byte {
	t.Helper()
	raw, err := EncodeFrame(f)
	require.NoError(t, err)
	return raw
}

func dataFrame(t *testing.T, seq uint8, dst, src Address, p Payload, ackRequest bool) []byte {
	return frameBytes(t, Frame{Type: FrameData, Seq: seq, Dst: dst, Src: src, Payload: p, Flags: FrameFlags{AckRequest: ackRequest}})
}

func ackFrame(t *testing.T, seq uint8) []byte {
	return frameBytes(t, Frame{Type: FrameAck, Seq: seq})
}

// responderPeer answers a range request the way a responder at peer does:
// an ACK at r4 = t1+roundTrip, then a report (r2, t3) with t3 = r2+reply.
func responderPeer(t *testing.T, peer, dev Address, r2, roundTrip, reply uint64) peerFunc {
	return func(f Frame, t1 uint64) []airFrame {
		if !Payload(f.Payload).is(KindRangeRequest) {
			return nil
		}
		seq, _ := Payload(f.Payload).Seq()
		r4 := t1 + roundTrip
		return []airFrame{
			{raw: ackFrame(t, f.Seq), stamp: r4},
			{raw: dataFrame(t, seq, dev, peer, NewReport(KindResponderReport, seq, r2, r2+reply), false), stamp: r4 + 1000},
		}
	}
}

var errBus = errors.New("bus unplugged")
