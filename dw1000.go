package dw1000

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// TimeUnitSeconds is the duration of one timestamp tick.
	TimeUnitSeconds = 1.565e-11
	// SpeedOfLight is the group velocity of the signal in air, in m/s.
	SpeedOfLight = 299702547.0
)

type RadioConfig struct {
	// Address is the address of this device, PAN included. A short address
	// is programmed into PANADR, an extended one into EUI. The width selects
	// the addressing mode of every frame the device sends.
	Address Address
	// AntennaDelay is the calibrated antenna delay in ticks.
	// Defaults to 0 (uncalibrated).
	AntennaDelay float64
	// AckTurnaround is the ACK_TIM value in preamble symbols.
	// Defaults to 6 if not provided.
	AckTurnaround uint8
	// PollInterval is the wait between two checks of a pending event.
	// Defaults to 5ms if not provided.
	PollInterval time.Duration
	// RangingPolls bounds the wait for the ACK of a range request.
	// Defaults to 200 if not provided.
	RangingPolls int
	// HandshakePolls bounds the window in which discovery replies are
	// collected, and the wait for a discovery frame on responders.
	// Defaults to 150 if not provided.
	HandshakePolls int
	// ReportPolls bounds the wait for the peer's timestamp report.
	// Defaults to 200 if not provided.
	ReportPolls int
	// TxPolls bounds the wait for a frame-sent interrupt.
	// Defaults to 20 if not provided.
	TxPolls int
	// MaxHandshakeBackoff is the upper bound of the random delay before a
	// discovery reply.
	// Defaults to 500ms if not provided.
	MaxHandshakeBackoff time.Duration
	// RetryDelay is the pause between two attempts of a retried exchange.
	// Defaults to 50ms if not provided.
	RetryDelay time.Duration
	// ReceiveTimeout turns the receiver off when no frame arrives within it.
	// The chip counts in microseconds, up to 65535.
	// Defaults to 0 (no frame wait timeout).
	ReceiveTimeout time.Duration
	// SequenceSource returns a fresh sequence number for every session.
	// Defaults to a uniform random source.
	SequenceSource func() uint8
	// Clock drives every sleep and timeout of the driver.
	// Defaults to the real clock.
	Clock Clock
	// Logger overrides the package logger for this device.
	Logger Logger
}

func (c *RadioConfig) applyDefaults() {
	if c.AckTurnaround == 0 {
		c.AckTurnaround = 6
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Millisecond
	}
	if c.RangingPolls == 0 {
		c.RangingPolls = 200
	}
	if c.HandshakePolls == 0 {
		c.HandshakePolls = 150
	}
	if c.ReportPolls == 0 {
		c.ReportPolls = 200
	}
	if c.TxPolls == 0 {
		c.TxPolls = 20
	}
	if c.MaxHandshakeBackoff == 0 {
		c.MaxHandshakeBackoff = 500 * time.Millisecond
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 50 * time.Millisecond
	}
	if c.SequenceSource == nil {
		c.SequenceSource = func() uint8 { return uint8(rand.Intn(256)) }
	}
	if c.Clock == nil {
		c.Clock = RealClock{}
	}
}

// Validate checks the configuration after defaults are applied.
func (c *RadioConfig) Validate() error {
	var errs []error
	if err := c.Address.valid(); err != nil {
		errs = append(errs, fmt.Errorf("address: %w", err))
	}
	if c.Address.IsBroadcast() {
		errs = append(errs, invalidArgument("device address must not be the broadcast address"))
	}
	if c.PollInterval < 0 {
		errs = append(errs, invalidArgument("poll interval %s must be positive", c.PollInterval))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, invalidArgument("retry delay %s must not be negative", c.RetryDelay))
	}
	if c.ReceiveTimeout < 0 || c.ReceiveTimeout > maxReceiveTimeout {
		errs = append(errs, invalidArgument("receive timeout %s must be within 0..%s", c.ReceiveTimeout, maxReceiveTimeout))
	}
	if c.MaxHandshakeBackoff < 0 {
		errs = append(errs, invalidArgument("handshake backoff %s must not be negative", c.MaxHandshakeBackoff))
	}
	for name, n := range map[string]int{
		"ranging polls":   c.RangingPolls,
		"handshake polls": c.HandshakePolls,
		"report polls":    c.ReportPolls,
		"tx polls":        c.TxPolls,
	} {
		if n < 0 {
			errs = append(errs, invalidArgument("%s %d must be positive", name, n))
		}
	}
	if math.IsNaN(c.AntennaDelay) || math.IsInf(c.AntennaDelay, 0) {
		errs = append(errs, invalidArgument("antenna delay %v is not a number", c.AntennaDelay))
	}
	return errors.Join(errs...)
}

type HardwareConfig struct {
	RadioConfig
	// Reset is the RSTn pin.
	Reset Pin
	// IRQ is the interrupt request pin.
	IRQ Pin
}

// State is the position of the device in the ranging protocol. It is kept
// for diagnostics; every public session call returns the device to Idle.
type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateAwaitingHandshakeReply
	StateRequestSent
	StateAwaitingResponse
	StateAwaitingPeerTimestamps
	StateCompleted
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateAwaitingHandshakeReply:
		return "awaiting-handshake-reply"
	case StateRequestSent:
		return "request-sent"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateAwaitingPeerTimestamps:
		return "awaiting-peer-timestamps"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Device drives one transceiver through the ranging protocol.
// Session calls (Init, Handshake, TWR, ...) are serialized; one runs at a
// time. This type is concurrent safe.
type Device struct {
	config HardwareConfig
	bus    *Bus
	irq    *EventSignal
	log    Logger
	port   io.Closer

	mu           sync.Mutex
	initialized  bool
	state        atomic.Int32
	antennaDelay atomic.Uint64
}

// NewWithHardware creates a driver for the transceiver behind conn. The
// radio is not touched until Init.
func NewWithHardware(c HardwareConfig, conn SPI) (*Device, error) {
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration: %w", ErrPkg, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: SPI connection not configured", ErrPkg)
	}
	if c.Reset == nil {
		return nil, fmt.Errorf("%w: reset pin not configured", ErrPkg)
	}
	if c.IRQ == nil {
		return nil, fmt.Errorf("%w: IRQ pin not configured", ErrPkg)
	}

	d := &Device{
		config: c,
		bus:    NewBus(conn, c.Reset, c.Clock),
		irq:    NewEventSignal(c.IRQ, c.Clock),
		log:    c.Logger,
	}
	if d.log == nil {
		d.log = globalLogger
	}
	d.SetAntennaDelay(c.AntennaDelay)
	return d, nil
}

func (d *Device) String() string {
	return fmt.Sprintf("DW1000(Address=%s, AntennaDelay=%.2f, State=%s)",
		d.config.Address,
		d.AntennaDelay(),
		d.State(),
	)
}

// Bus exposes the register bus for diagnostics.
func (d *Device) Bus() *Bus { return d.bus }

// Address returns the configured device address.
func (d *Device) Address() Address { return d.config.Address }

// State returns the current protocol state.
func (d *Device) State() State { return State(d.state.Load()) }

func (d *Device) setState(s State) { d.state.Store(int32(s)) }

// AntennaDelay returns the antenna delay used by Distance.
func (d *Device) AntennaDelay() float64 {
	return math.Float64frombits(d.antennaDelay.Load())
}

// SetAntennaDelay stores a calibrated antenna delay in ticks.
func (d *Device) SetAntennaDelay(ticks float64) {
	d.antennaDelay.Store(math.Float64bits(ticks))
}

// Init resets the transceiver and programs the radio, LDE microcode, frame
// filtering and device address. It must be called before any session and
// after any failed one.
// This method is concurrent safe.
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.init()
}

func (d *Device) init() error {
	d.initialized = false
	d.irq.Disarm()
	d.irq.Clear()

	d.log.Info("Resetting DW1000...")
	if err := d.bus.Reset(); err != nil {
		return err
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"radio setup", d.setupRadio},
		{"LDE load", d.loadLDE},
		{"frame filter", d.configureFrameFilter},
		{"address", d.programAddress},
		{"receive timeout", d.setReceiveTimeout},
		{"status clear", d.clearStatus},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	d.initialized = true
	d.setState(StateIdle)
	d.log.Info("DW1000 initialized. Ready to range.")
	return nil
}

// Close stops interrupt handling, holds the transceiver in reset and
// releases the SPI port.
// This method is concurrent safe.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.initialized = false
	var errs []error
	if err := d.irq.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.config.Reset.Out(Low); err != nil {
		errs = append(errs, hardwareFault("reset hold", err))
	}
	if d.port != nil {
		if err := d.port.Close(); err != nil {
			d.log.Warn("Failed to close SPI port")
			errs = append(errs, err)
		}
	}
	d.log.Info("DW1000 closed.")
	return errors.Join(errs...)
}

func (d *Device) nextSeq() uint8 { return d.config.SequenceSource() }

// begin checks that a session may start. Call with d.mu held.
func (d *Device) begin() error {
	if !d.initialized {
		return fmt.Errorf("%w: %w", ErrPkg, ErrNotInitialized)
	}
	return nil
}

// end returns the device to Idle and leaves no handler armed. Call with
// d.mu held.
func (d *Device) end() {
	d.irq.Disarm()
	d.setState(StateIdle)
}
