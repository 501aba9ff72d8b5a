//go:build tinygo

package dw1000

import (
	"machine"
)

// tinygoPin wraps a machine.Pin to satisfy the Pin interface.
type tinygoPin struct {
	pin machine.Pin
}

func (p *tinygoPin) Out(l Level) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(bool(l))
	return nil
}

func (p *tinygoPin) In(pull Pull) error {
	mode := machine.PinInput
	switch pull {
	case PullUp:
		mode = machine.PinInputPullup
	case PullDown:
		mode = machine.PinInputPulldown
	}
	p.pin.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (p *tinygoPin) Read() Level {
	return Level(p.pin.Get())
}

// Watch runs handler in interrupt context.
func (p *tinygoPin) Watch(edge Edge, handler func()) error {
	var change machine.PinChange
	switch edge {
	case RisingEdge:
		change = machine.PinRising
	case FallingEdge:
		change = machine.PinFalling
	case BothEdges:
		change = machine.PinToggle
	default:
		return nil
	}
	return p.pin.SetInterrupt(change, func(machine.Pin) {
		handler()
	})
}

func (p *tinygoPin) Unwatch() error {
	return p.pin.SetInterrupt(0, nil)
}

// tinygoSPI wraps a machine.SPI to satisfy the SPI interface.
type tinygoSPI struct {
	spi *machine.SPI
	cs  machine.Pin
}

func (s *tinygoSPI) Tx(w, r []byte) error {
	s.cs.Low()
	err := s.spi.Tx(w, r)
	s.cs.High()
	return err
}

// NewTinyGo creates a DW1000 driver for TinyGo systems. spi must already be
// configured; csPin is driven by the driver. Call Init on the result before
// ranging.
func NewTinyGo(c RadioConfig, spi *machine.SPI, csPin, resetPin, irqPin machine.Pin) (*Device, error) {
	csPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	csPin.High()

	return NewWithHardware(HardwareConfig{
		RadioConfig: c,
		Reset:       &tinygoPin{pin: resetPin},
		IRQ:         &tinygoPin{pin: irqPin},
	}, &tinygoSPI{spi: spi, cs: csPin})
}
