package dw1000

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// session holds the state of one protocol exchange. A fresh session is made
// for every public call, so a handler left over from an earlier exchange can
// only ever write into its own, abandoned session. Its completion is dropped
// by the EventSignal generation check.
type session struct {
	dev  *Device
	name string
	seq  uint8

	mu  sync.Mutex
	err error
}

func (d *Device) newSession(name string) *session {
	return &session{dev: d, name: name, seq: d.nextSeq()}
}

// handler wraps fn for the IRQ dispatcher. fn reports whether the step is
// done. A failing fn is recorded and wakes the waiter, which then returns the
// error.
func (s *session) handler(fn func() (bool, error)) func() bool {
	return func() bool {
		done, err := fn()
		if err != nil {
			s.fail(err)
			return true
		}
		return done
	}
}

func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// await arms fn and polls for it to complete within n rounds. rearm runs at
// the start of every round.
func (s *session) await(ctx context.Context, n int, fn func() (bool, error), rearm func() error) (bool, error) {
	d := s.dev
	if err := d.irq.Arm(s.handler(fn)); err != nil {
		return false, err
	}
	ok, err := d.irq.Poll(ctx, n, d.config.PollInterval, rearm)
	d.irq.Disarm()
	if ferr := s.failure(); ferr != nil {
		return false, ferr
	}
	return ok, err
}

// receive reads and decodes the frame that raised the interrupt, then hands
// the receive buffer back. A frame that does not decode is reported as
// ok == false.
func (s *session) receive() (f Frame, ok bool, err error) {
	d := s.dev
	status, err := d.readStatus()
	if err != nil {
		return Frame{}, false, err
	}
	if good, _ := status.Bit(_RXFCG); !good {
		if overrun, _ := status.Bit(_RXOVRR); overrun {
			return Frame{}, false, d.toggleBuffer(status)
		}
		return Frame{}, false, nil
	}
	raw, err := d.readFrame()
	if err != nil && !errors.Is(err, ErrInvalidArgument) {
		return Frame{}, false, err
	}
	if err == nil {
		f, err = DecodeFrame(raw)
		ok = err == nil
		if !ok {
			d.log.Debug(fmt.Sprintf("%s: dropping undecodable frame: %v", s.name, err))
		}
	}
	if err := d.toggleBuffer(status); err != nil {
		return Frame{}, false, err
	}
	return f, ok, nil
}

// accept checks that f carries a payload of kind for this session. from may
// be the zero Address to accept any sender.
func (s *session) accept(f Frame, kind MessageKind, from Address) (Payload, bool) {
	p := Payload(f.Payload)
	if !p.is(kind) {
		return nil, false
	}
	seq, _ := p.Seq()
	if seq != s.seq {
		s.dev.log.Debug(fmt.Sprintf("%s: %v: got %d, want %d", s.name, ErrSequenceMismatch, seq, s.seq))
		return nil, false
	}
	if from.Width() != 0 && f.Src != from {
		s.dev.log.Debug(fmt.Sprintf("%s: ignoring %s from %s", s.name, kind, f.Src))
		return nil, false
	}
	return p, true
}

// send stages a data frame and transmits it, waiting for the frame-sent
// interrupt.
func (s *session) send(ctx context.Context, dst Address, payload Payload, ackRequest bool) (bool, error) {
	d := s.dev
	flags := FrameFlags{AckRequest: ackRequest}
	if _, err := d.bus.BuildFrame(FrameData, s.seq, dst, d.config.Address, payload, flags); err != nil {
		return false, err
	}
	if err := d.setSendInterrupt(); err != nil {
		return false, err
	}
	sent := func() (bool, error) {
		status, err := d.readStatus()
		if err != nil {
			return false, err
		}
		if done, _ := status.Bit(_TXFRS); !done {
			return false, nil
		}
		if err := d.bus.ClearStatusBits(_SYS_STATUS, _SYS_STATUS_LEN, _TXFRB, _TXPRS, _TXPHS, _TXFRS); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := d.irq.Arm(s.handler(sent)); err != nil {
		return false, err
	}
	if err := d.transmit(); err != nil {
		d.irq.Disarm()
		return false, err
	}
	ok, err := d.irq.Poll(ctx, d.config.TxPolls, d.config.PollInterval, nil)
	d.irq.Disarm()
	if ferr := s.failure(); ferr != nil {
		return false, ferr
	}
	return ok, err
}
