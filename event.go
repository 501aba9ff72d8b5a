package dw1000

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventSignal turns IRQ edges into a one-shot completion flag.
//
// The pin watch is installed once. Arm swaps the handler it dispatches to, so
// at most one handler is ever active and replacing it never races the watch
// goroutine. A handler reports completion by returning true; waiters then
// observe everything the handler wrote.
//
// Every Arm and Disarm starts a new generation. A handler that returns after
// its generation ended completes nothing, even if it was dispatched before.
type EventSignal struct {
	pin   Pin
	clock Clock

	handler atomic.Pointer[armedHandler]
	set     atomic.Bool
	ch      chan struct{}

	genMu sync.Mutex
	gen   uint64

	mu       sync.Mutex
	watching bool
}

type armedHandler struct {
	fn  func() bool
	gen uint64
}

// NewEventSignal returns a signal fed by irq. The pin is not touched until
// the first Arm.
func NewEventSignal(irq Pin, clock Clock) *EventSignal {
	if clock == nil {
		clock = RealClock{}
	}
	return &EventSignal{pin: irq, clock: clock, ch: make(chan struct{}, 1)}
}

// Arm installs handler as the single interrupt handler and clears any stale
// set state. The event is set when handler returns true.
func (e *EventSignal) Arm(handler func() bool) error {
	if err := e.watch(); err != nil {
		return err
	}
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.gen++
	e.clear()
	e.handler.Store(&armedHandler{fn: handler, gen: e.gen})
	return nil
}

// Disarm removes the handler. Edges seen afterwards are ignored, and a
// handler still running completes nothing.
func (e *EventSignal) Disarm() {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.gen++
	e.handler.Store(nil)
}

// Close disarms the signal and stops edge detection on the pin.
func (e *EventSignal) Close() error {
	e.Disarm()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.watching {
		return nil
	}
	e.watching = false
	return e.pin.Unwatch()
}

// Set marks the event complete and wakes a waiter.
func (e *EventSignal) Set() {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.signal()
}

// Clear erases the set state and any pending wake-up.
func (e *EventSignal) Clear() {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.clear()
}

func (e *EventSignal) signal() {
	e.set.Store(true)
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

func (e *EventSignal) clear() {
	e.set.Store(false)
	select {
	case <-e.ch:
	default:
	}
}

// complete sets the event on behalf of the handler armed as gen.
func (e *EventSignal) complete(gen uint64) {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	if gen == e.gen {
		e.signal()
	}
}

// IsSet reports whether the event was set since the last Clear or Arm.
func (e *EventSignal) IsSet() bool {
	return e.set.Load()
}

// Wait suspends until the event is set, d elapses or ctx is done.
// It returns false with a nil error on timeout.
func (e *EventSignal) Wait(ctx context.Context, d time.Duration) (bool, error) {
	if e.IsSet() {
		return true, nil
	}
	select {
	case <-e.ch:
		return e.IsSet(), nil
	case <-e.clock.After(d):
		return e.IsSet(), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Poll runs up to n rounds of rearm followed by Wait(interval). rearm may be
// nil. It stops at the first round that finds the event set.
func (e *EventSignal) Poll(ctx context.Context, n int, interval time.Duration, rearm func() error) (bool, error) {
	for i := 0; i < n; i++ {
		if e.IsSet() {
			return true, nil
		}
		if rearm != nil {
			if err := rearm(); err != nil {
				return false, err
			}
		}
		ok, err := e.Wait(ctx, interval)
		if err != nil || ok {
			return ok, err
		}
	}
	return e.IsSet(), nil
}

func (e *EventSignal) watch() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watching {
		return nil
	}
	if e.pin == nil {
		return fmt.Errorf("%w: %w: IRQ pin not configured", ErrPkg, ErrHardwareFault)
	}
	if err := e.pin.In(PullDown); err != nil {
		return hardwareFault("irq input", err)
	}
	if err := e.pin.Watch(RisingEdge, e.dispatch); err != nil {
		return hardwareFault("irq watch", err)
	}
	e.watching = true
	return nil
}

func (e *EventSignal) dispatch() {
	if h := e.handler.Load(); h != nil && h.fn() {
		e.complete(h.gen)
	}
}
