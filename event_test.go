package dw1000

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSignalWatchInstalledOnce(t *testing.T) {
	pin := &mockPin{}
	e := NewEventSignal(pin, newTestClock())

	var first, second int
	require.NoError(t, e.Arm(func() bool { first++; return false }))
	require.NoError(t, e.Arm(func() bool { second++; return false }))

	assert.Equal(t, 1, pin.watchCalls)
	assert.Equal(t, RisingEdge, pin.edge)
	assert.Equal(t, PullDown, pin.pull)

	pin.fire()
	assert.Equal(t, 0, first, "replaced handler must not run")
	assert.Equal(t, 1, second)

	e.Disarm()
	pin.fire()
	assert.Equal(t, 1, second)

	require.NoError(t, e.Close())
	assert.Nil(t, pin.handler)
	require.NoError(t, e.Close())
}

func TestEventSignalArmClearsStaleState(t *testing.T) {
	e := NewEventSignal(&mockPin{}, newTestClock())
	e.Set()
	require.True(t, e.IsSet())

	require.NoError(t, e.Arm(func() bool { return false }))
	assert.False(t, e.IsSet())

	ok, err := e.Wait(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "drained wake-up must not complete a wait")
}

func TestEventSignalHandlerReturningFalseDoesNotComplete(t *testing.T) {
	pin := &mockPin{}
	e := NewEventSignal(pin, newTestClock())
	require.NoError(t, e.Arm(func() bool { return false }))

	pin.fire()
	assert.False(t, e.IsSet())
}

func TestEventSignalIgnoresHandlerFromEndedWait(t *testing.T) {
	pin := &mockPin{}
	e := NewEventSignal(pin, newTestClock())

	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, e.Arm(func() bool {
		close(entered)
		<-release
		return true
	}))

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		pin.fire()
	}()
	<-entered

	ok, err := e.Poll(context.Background(), 2, time.Millisecond, nil)
	require.NoError(t, err)
	require.False(t, ok)
	e.Disarm()

	var next int
	require.NoError(t, e.Arm(func() bool { next++; return false }))
	close(release)
	<-finished

	assert.False(t, e.IsSet(), "a handler of an ended wait must not complete the next one")
	ok, err = e.Wait(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, next)

	pin.fire()
	assert.Equal(t, 1, next)
}

func TestEventSignalIgnoresHandlerRearmedOver(t *testing.T) {
	pin := &mockPin{}
	e := NewEventSignal(pin, newTestClock())

	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, e.Arm(func() bool {
		close(entered)
		<-release
		return true
	}))
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		pin.fire()
	}()
	<-entered

	// Re-arming without a Disarm also ends the generation.
	require.NoError(t, e.Arm(func() bool { return true }))
	close(release)
	<-finished
	assert.False(t, e.IsSet())

	pin.fire()
	assert.True(t, e.IsSet())
}

func TestEventSignalWait(t *testing.T) {
	ctx := context.Background()

	t.Run("set by handler", func(t *testing.T) {
		pin := &mockPin{}
		clock := newTestClock()
		e := NewEventSignal(pin, clock)
		require.NoError(t, e.Arm(func() bool { return true }))
		clock.onTick = pin.fire

		ok, err := e.Wait(ctx, time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("timeout", func(t *testing.T) {
		e := NewEventSignal(&mockPin{}, newTestClock())
		ok, err := e.Wait(ctx, time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("already set", func(t *testing.T) {
		clock := newTestClock()
		e := NewEventSignal(&mockPin{}, clock)
		e.Set()
		ok, err := e.Wait(ctx, time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, clock.afters, "set event returns without waiting")
	})

	t.Run("cancelled", func(t *testing.T) {
		e := NewEventSignal(&mockPin{}, RealClock{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		ok, err := e.Wait(cctx, time.Hour)
		assert.False(t, ok)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEventSignalPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("rearms every round", func(t *testing.T) {
		e := NewEventSignal(&mockPin{}, newTestClock())
		rearms := 0
		ok, err := e.Poll(ctx, 4, time.Millisecond, func() error { rearms++; return nil })
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 4, rearms)
	})

	t.Run("stops once set", func(t *testing.T) {
		pin := &mockPin{}
		clock := newTestClock()
		e := NewEventSignal(pin, clock)
		require.NoError(t, e.Arm(func() bool { return true }))

		rounds := 0
		clock.onTick = func() {
			if rounds == 2 {
				pin.fire()
			}
		}
		ok, err := e.Poll(ctx, 10, time.Millisecond, func() error { rounds++; return nil })
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, rounds)
	})

	t.Run("rearm failure", func(t *testing.T) {
		e := NewEventSignal(&mockPin{}, newTestClock())
		ok, err := e.Poll(ctx, 3, time.Millisecond, func() error { return errBus })
		assert.False(t, ok)
		assert.True(t, errors.Is(err, errBus))
	})

	t.Run("nil rearm", func(t *testing.T) {
		clock := newTestClock()
		e := NewEventSignal(&mockPin{}, clock)
		ok, err := e.Poll(ctx, 3, time.Millisecond, nil)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 3, clock.afters)
	})
}

func TestEventSignalWithoutPin(t *testing.T) {
	e := NewEventSignal(nil, nil)
	assert.ErrorIs(t, e.Arm(func() bool { return false }), ErrHardwareFault)
	assert.NoError(t, e.Close())
}
