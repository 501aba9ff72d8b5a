package dw1000

// Level is the logical level of a GPIO line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Pull is the input bias applied to a GPIO line.
type Pull uint8

const (
	PullNoChange Pull = iota
	PullFloat
	PullDown
	PullUp
)

// Edge selects which transition of an input line raises a callback.
// The DW1000 IRQ output is active high, so the driver watches RisingEdge.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

// SPI is a full-duplex SPI connection to the transceiver.
// One Tx call is one bus transaction: chip select stays asserted from the
// header byte to the last data byte.
type SPI interface {
	// Tx sends w and reads into r.
	// len(r) must be >= len(w).
	Tx(w, r []byte) error
}

// Pin is a GPIO line. The driver uses one as the RSTn output and one as the
// IRQ input.
type Pin interface {
	// Out drives the line with the given level.
	Out(l Level) error
	// In releases the line as an input with the given bias.
	In(pull Pull) error
	// Read returns the current level of the line.
	Read() Level
	// Watch calls handler every time edge is seen on the line.
	// Only one handler can be installed at a time.
	Watch(edge Edge, handler func()) error
	// Unwatch stops edge detection.
	Unwatch() error
}
