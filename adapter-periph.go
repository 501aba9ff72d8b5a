//go:build !tinygo

package dw1000

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// edgePollTimeout bounds each WaitForEdge call so the watch goroutine can
// notice Unwatch.
const edgePollTimeout = 100 * time.Millisecond

// periphPin wraps a gpio.PinIO to satisfy the Pin interface.
type periphPin struct {
	gpio.PinIO

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (p *periphPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

func toPeriphPull(pull Pull) gpio.Pull {
	switch pull {
	case PullFloat:
		return gpio.Float
	case PullDown:
		return gpio.PullDown
	case PullUp:
		return gpio.PullUp
	default:
		return gpio.PullNoChange
	}
}

func toPeriphEdge(edge Edge) gpio.Edge {
	switch edge {
	case RisingEdge:
		return gpio.RisingEdge
	case FallingEdge:
		return gpio.FallingEdge
	case BothEdges:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}

func (p *periphPin) In(pull Pull) error {
	return p.PinIO.In(toPeriphPull(pull), gpio.NoEdge)
}

func (p *periphPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

// Watch starts a goroutine calling handler on every edge. The DW1000 IRQ
// line is active high, so it is pulled down while idle.
func (p *periphPin) Watch(edge Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return fmt.Errorf("%w: pin %s already watched", ErrPkg, p.PinIO.Name())
	}
	if err := p.PinIO.In(gpio.PullDown, toPeriphEdge(edge)); err != nil {
		return err
	}

	stop, done := make(chan struct{}), make(chan struct{})
	p.stop, p.done = stop, done
	go func() {
		defer close(done)
		for {
			edged := p.PinIO.WaitForEdge(edgePollTimeout)
			select {
			case <-stop:
				return
			default:
			}
			if edged {
				handler()
			}
		}
	}()
	return nil
}

// Unwatch stops the watch goroutine and waits for it to exit.
func (p *periphPin) Unwatch() error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return p.PinIO.In(gpio.PullDown, gpio.NoEdge)
}

// Config holds the configuration for the Linux/periph.io driver.
type Config struct {
	RadioConfig
	// ResetPin is the GPIO pin number (BCM numbering) wired to RSTn.
	// Defaults to 27 if not provided.
	ResetPin int
	// IRQPin is the GPIO pin number (BCM numbering) wired to IRQ.
	// Defaults to 17 if not provided.
	IRQPin int
	// SpiBusPath is the path to the SPI bus (e.g., "/dev/spidev0.0").
	// Defaults to "/dev/spidev0.0" if not provided.
	SpiBusPath string
	// SpiClockHz is the SPI clock frequency in Hz. The DW1000 accepts at
	// most 3MHz until its PLL is locked.
	// Defaults to 1000000 (1MHz) if not provided.
	SpiClockHz int
}

func openPin(n int, role string) (*periphPin, error) {
	name := fmt.Sprintf("GPIO%d", n)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: failed to open %s pin %s", ErrPkg, role, name)
	}
	return &periphPin{PinIO: p}, nil
}

// New creates a DW1000 driver for Linux systems.
// It applies configuration defaults and opens the GPIO and SPI interfaces
// using periph.io. Call Init on the result before ranging.
func New(c Config) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize periph.io host: %w", ErrPkg, err)
	}

	if c.SpiBusPath == "" {
		c.SpiBusPath = "/dev/spidev0.0"
	}
	if c.SpiClockHz == 0 {
		c.SpiClockHz = 1000000
	}
	if c.ResetPin == 0 {
		c.ResetPin = 27
	}
	if c.IRQPin == 0 {
		c.IRQPin = 17
	}

	p, err := spireg.Open(c.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open SPI port: %w", ErrPkg, err)
	}
	conn, err := p.Connect(physic.Frequency(c.SpiClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: failed to create SPI connection: %w", ErrPkg, err)
	}

	rst, err := openPin(c.ResetPin, "reset")
	if err != nil {
		p.Close()
		return nil, err
	}
	irq, err := openPin(c.IRQPin, "IRQ")
	if err != nil {
		p.Close()
		return nil, err
	}

	dev, err := NewWithHardware(HardwareConfig{
		RadioConfig: c.RadioConfig,
		Reset:       rst,
		IRQ:         irq,
	}, conn)
	if err != nil {
		p.Close()
		return nil, err
	}
	dev.port = p
	return dev, nil
}
