package dw1000

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"time"
)

// Measurement is one completed two-way ranging exchange.
//
//	initiator  T1 ---- request ---->  R2  responder
//	           R4 <------ ack ------  T3
type Measurement struct {
	T1, R2, T3, R4 uint64
	// Peer is the other side of the exchange.
	Peer Address
	// Seq is the session sequence number.
	Seq uint8
	// Quality is the receive quality of the ACK on the initiator, 0 on the
	// responder.
	Quality float64
}

// Deltas returns the initiator round trip R4-T1 and the responder reply time
// T3-R2, both modulo 2^40.
func (m Measurement) Deltas() (roundTrip, reply uint64) {
	return timestampDelta(m.R4, m.T1), timestampDelta(m.T3, m.R2)
}

// TimeOfFlight returns the one-way flight time in ticks after removing
// antennaDelay.
func (m Measurement) TimeOfFlight(antennaDelay float64) float64 {
	roundTrip, reply := m.Deltas()
	return (float64(roundTrip) - float64(reply) - antennaDelay) / 2
}

// Distance returns the distance in meters after removing antennaDelay.
func (m Measurement) Distance(antennaDelay float64) float64 {
	return m.TimeOfFlight(antennaDelay) * TimeUnitSeconds * SpeedOfLight
}

func timestampDelta(later, earlier uint64) uint64 {
	return (later - earlier) & _TIMESTAMP_MASK
}

// Distance converts m to meters with the device's antenna delay.
func (d *Device) Distance(m Measurement) float64 {
	return m.Distance(d.AntennaDelay())
}

// Handshake broadcasts a discovery frame and collects the addresses that
// reply during the handshake window. It returns ok == false when nobody
// answered.
// This method is concurrent safe.
func (d *Device) Handshake(ctx context.Context) ([]Address, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(); err != nil {
		return nil, false, err
	}
	defer d.end()

	s := d.newSession("handshake")
	d.setState(StateDiscovering)
	sent, err := s.send(ctx, BroadcastAddress(d.config.Address.PAN), NewPayload(KindDiscovery, s.seq), false)
	if err != nil || !sent {
		return nil, false, d.timedOut(err)
	}

	if err := d.init(); err != nil {
		return nil, false, err
	}
	d.setState(StateAwaitingHandshakeReply)
	if err := d.setReceiveInterrupt(); err != nil {
		return nil, false, err
	}
	if err := d.enableDoubleBuffering(); err != nil {
		return nil, false, err
	}

	var peers []Address
	collect := func() (bool, error) {
		f, ok, err := s.receive()
		if err != nil || !ok {
			return false, err
		}
		if _, ok := s.accept(f, KindDiscoveryReply, Address{}); !ok {
			return false, nil
		}
		s.mu.Lock()
		if !slices.Contains(peers, f.Src) {
			peers = append(peers, f.Src)
		}
		s.mu.Unlock()
		return false, nil
	}
	// The window always runs to the end; collect never completes the event.
	if _, err := s.await(ctx, d.config.HandshakePolls, collect, d.search); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	found := slices.Clone(peers)
	s.mu.Unlock()
	if len(found) == 0 {
		d.setState(StateTimedOut)
		return nil, false, nil
	}
	d.setState(StateCompleted)
	d.log.Info(fmt.Sprintf("Handshake found %d peer(s)", len(found)))
	return found, true, nil
}

// HandshakeResponse waits for a discovery frame and answers it after a
// random backoff. It returns the initiator's address.
// This method is concurrent safe.
func (d *Device) HandshakeResponse(ctx context.Context) (Address, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(); err != nil {
		return Address{}, false, err
	}
	defer d.end()

	s := &session{dev: d, name: "handshake-response"}
	d.setState(StateAwaitingHandshakeReply)
	if err := d.setReceiveInterrupt(); err != nil {
		return Address{}, false, err
	}

	var peer Address
	discovered := func() (bool, error) {
		f, ok, err := s.receive()
		if err != nil || !ok {
			return false, err
		}
		p := Payload(f.Payload)
		if !p.is(KindDiscovery) {
			return false, nil
		}
		s.mu.Lock()
		s.seq, _ = p.Seq()
		peer = f.Src
		s.mu.Unlock()
		return true, nil
	}
	ok, err := s.await(ctx, d.config.HandshakePolls, discovered, d.search)
	if err != nil || !ok {
		return Address{}, false, d.timedOut(err)
	}

	s.mu.Lock()
	to := peer
	s.mu.Unlock()

	if err := d.init(); err != nil {
		return Address{}, false, err
	}
	if err := d.sleep(ctx, d.backoff()); err != nil {
		return Address{}, false, err
	}
	sent, err := s.send(ctx, to, NewPayload(KindDiscoveryReply, s.seq), false)
	if err != nil || !sent {
		return Address{}, false, d.timedOut(err)
	}
	d.setState(StateCompleted)
	return to, true, nil
}

// TWR runs the initiator side of a ranging exchange with dst. It returns
// ok == false if any step of the exchange timed out.
// This method is concurrent safe.
func (d *Device) TWR(ctx context.Context, dst Address) (Measurement, bool, error) {
	if err := dst.valid(); err != nil {
		return Measurement{}, false, err
	}
	if dst.IsBroadcast() {
		return Measurement{}, false, invalidArgument("cannot range with the broadcast address")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(); err != nil {
		return Measurement{}, false, err
	}
	defer d.end()

	s := d.newSession("twr")
	m := Measurement{Peer: dst, Seq: s.seq}

	d.setState(StateRequestSent)
	if _, err := d.bus.BuildFrame(FrameData, s.seq, dst, d.config.Address, NewPayload(KindRangeRequest, s.seq), FrameFlags{AckRequest: true}); err != nil {
		return Measurement{}, false, err
	}
	if err := d.enableAutoAck(); err != nil {
		return Measurement{}, false, err
	}
	if err := d.setReceiveInterrupt(); err != nil {
		return Measurement{}, false, err
	}

	acked := func() (bool, error) {
		f, ok, err := s.receive()
		if err != nil || !ok {
			return false, err
		}
		if f.Type != FrameAck {
			return false, nil
		}
		if f.Seq != s.seq {
			d.log.Debug(fmt.Sprintf("twr: ack %v: got %d, want %d", ErrSequenceMismatch, f.Seq, s.seq))
			return false, nil
		}
		t1, err := d.txTimestamp()
		if err != nil {
			return false, err
		}
		r4, err := d.rxTimestamp()
		if err != nil {
			return false, err
		}
		q, err := d.RxQuality()
		if err != nil {
			return false, err
		}
		s.mu.Lock()
		m.T1, m.R4, m.Quality = t1, r4, q
		s.mu.Unlock()
		return true, nil
	}
	if err := d.irq.Arm(s.handler(acked)); err != nil {
		return Measurement{}, false, err
	}
	if err := d.transmitAndWait(); err != nil {
		return Measurement{}, false, err
	}
	d.setState(StateAwaitingResponse)
	ok, err := d.irq.Poll(ctx, d.config.RangingPolls, d.config.PollInterval, nil)
	d.irq.Disarm()
	if ferr := s.failure(); ferr != nil {
		return Measurement{}, false, ferr
	}
	if err != nil || !ok {
		return Measurement{}, false, d.timedOut(err)
	}

	d.setState(StateAwaitingPeerTimestamps)
	reported := func() (bool, error) {
		f, ok, err := s.receive()
		if err != nil || !ok {
			return false, err
		}
		p, ok := s.accept(f, KindResponderReport, dst)
		if !ok {
			return false, nil
		}
		r2, t3, err := p.Timestamps()
		if err != nil {
			d.log.Debug("twr: malformed responder report")
			return false, nil
		}
		s.mu.Lock()
		m.R2, m.T3 = r2, t3
		s.mu.Unlock()
		return true, nil
	}
	ok, err = s.await(ctx, d.config.ReportPolls, reported, d.search)
	if err != nil || !ok {
		return Measurement{}, false, d.timedOut(err)
	}

	s.mu.Lock()
	out := m
	s.mu.Unlock()

	// The responder computes its own distance from this report. Losing it
	// does not invalidate the local measurement.
	sent, err := s.send(ctx, dst, NewReport(KindInitiatorReport, s.seq, out.T1, out.R4), false)
	if err != nil {
		return Measurement{}, false, err
	}
	if !sent {
		d.log.Warn("twr: initiator report was not confirmed")
	}
	d.setState(StateCompleted)
	return out, true, nil
}

// TWRResponse runs the responder side of a ranging exchange: it answers the
// next range request with an auto-ACK, reports its timestamps and waits for
// the initiator's.
// This method is concurrent safe.
func (d *Device) TWRResponse(ctx context.Context) (Measurement, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(); err != nil {
		return Measurement{}, false, err
	}
	defer d.end()

	s := &session{dev: d, name: "twr-response"}
	var m Measurement

	d.setState(StateAwaitingResponse)
	if err := d.setAckTurnaround(d.config.AckTurnaround); err != nil {
		return Measurement{}, false, err
	}
	if err := d.enableAutoAck(); err != nil {
		return Measurement{}, false, err
	}
	// The frame-sent interrupt of the auto-ACK fires once both R2 and T3 are
	// latched.
	if err := d.setSendInterrupt(); err != nil {
		return Measurement{}, false, err
	}
	requested := func() (bool, error) {
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
		f, ok, err := s.receive()
		if err != nil || !ok {
			return false, err
		}
		p := Payload(f.Payload)
		if !p.is(KindRangeRequest) {
			return false, nil
		}
		seq, _ := p.Seq()
		r2, err := d.rxTimestamp()
		if err != nil {
			return false, err
		}
		t3, err := d.txTimestamp()
		if err != nil {
			return false, err
		}
		s.mu.Lock()
		s.seq = seq
		m.R2, m.T3, m.Peer, m.Seq = r2, t3, f.Src, seq
		s.mu.Unlock()
		return true, nil
	}
	ok, err := s.await(ctx, d.config.RangingPolls, requested, d.search)
	if err != nil || !ok {
		return Measurement{}, false, d.timedOut(err)
	}

	s.mu.Lock()
	peer, r2, t3 := m.Peer, m.R2, m.T3
	s.mu.Unlock()

	d.setState(StateRequestSent)
	sent, err := s.send(ctx, peer, NewReport(KindResponderReport, s.seq, r2, t3), false)
	if err != nil || !sent {
		return Measurement{}, false, d.timedOut(err)
	}

	d.setState(StateAwaitingPeerTimestamps)
	if err := d.setReceiveInterrupt(); err != nil {
		return Measurement{}, false, err
	}
	reported := func() (bool, error) {
		f, ok, err := s.receive()
		if err != nil || !ok {
			return false, err
		}
		p, ok := s.accept(f, KindInitiatorReport, peer)
		if !ok {
			return false, nil
		}
		t1, r4, err := p.Timestamps()
		if err != nil {
			d.log.Debug("twr-response: malformed initiator report")
			return false, nil
		}
		s.mu.Lock()
		m.T1, m.R4 = t1, r4
		s.mu.Unlock()
		return true, nil
	}
	ok, err = s.await(ctx, d.config.ReportPolls, reported, d.search)
	if err != nil || !ok {
		return Measurement{}, false, d.timedOut(err)
	}

	s.mu.Lock()
	out := m
	s.mu.Unlock()
	d.setState(StateCompleted)
	return out, true, nil
}

// timedOut records a timeout and passes through a non-nil err.
func (d *Device) timedOut(err error) error {
	d.setState(StateTimedOut)
	if err != nil {
		return err
	}
	d.log.Debug("Timed out waiting for peer")
	return nil
}

func (d *Device) backoff() time.Duration {
	if d.config.MaxHandshakeBackoff <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d.config.MaxHandshakeBackoff) + 1))
}

func (d *Device) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	select {
	case <-d.config.Clock.After(dur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
