package dw1000

import (
	"errors"
	"fmt"
)

var (
	ErrPkg = errors.New("dw1000")

	// ErrHardwareFault reports a failed bus transaction or a device that did
	// not come back after reset. The operation in flight is aborted.
	ErrHardwareFault = errors.New("hardware fault")
	// ErrTimeout is the reason a bounded wait gave up. Public ranging calls
	// report it as ok == false instead of returning it.
	ErrTimeout = errors.New("timeout waiting for device")
	// ErrSequenceMismatch marks a frame whose embedded sequence number does
	// not belong to the current session.
	ErrSequenceMismatch = errors.New("sequence mismatch")
	// ErrReceiverOverrun means the receiver dropped at least one frame.
	ErrReceiverOverrun = errors.New("receiver overrun")
	// ErrInvalidArgument rejects malformed input before any bus access.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotInitialized is returned by session calls made before Init.
	ErrNotInitialized = errors.New("device not initialized")
	// ErrNoSamples is returned when calibration has nothing to average.
	ErrNoSamples = errors.New("no calibration samples")
)

func hardwareFault(op string, err error) error {
	return fmt.Errorf("%w: %w: %s: %w", ErrPkg, ErrHardwareFault, op, err)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrPkg, ErrInvalidArgument, fmt.Sprintf(format, args...))
}
