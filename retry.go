package dw1000

import (
	"context"
	"errors"
	"fmt"

	retry "github.com/avast/retry-go/v5"
)

// RangeWithRetry runs TWR with dst up to attempts times, re-initialising the
// transceiver after every timed-out exchange. It returns ok == false once
// every attempt timed out. Hardware faults stop the loop at once.
func (d *Device) RangeWithRetry(ctx context.Context, dst Address, attempts int) (Measurement, bool, error) {
	if attempts <= 0 {
		return Measurement{}, false, invalidArgument("attempts %d must be positive", attempts)
	}
	var m Measurement
	err := d.retry(ctx, attempts, "twr", func() error {
		res, ok, err := d.TWR(ctx, dst)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %w: no answer from %s", ErrPkg, ErrTimeout, dst)
		}
		m = res
		return nil
	})
	if errors.Is(err, ErrTimeout) {
		return Measurement{}, false, nil
	}
	if err != nil {
		return Measurement{}, false, err
	}
	return m, true, nil
}

// retry runs fn until it succeeds, fails with anything but ErrTimeout, or
// attempts are used up. The device is re-initialised after every timeout.
func (d *Device) retry(ctx context.Context, attempts int, name string, fn func() error) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(d.config.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrTimeout)
		}),
		retry.OnRetry(func(n uint, err error) {
			d.log.Debug(fmt.Sprintf("%s: attempt %d failed: %v", name, n+1, err))
		}),
	).Do(func() error {
		err := fn()
		if err == nil || !errors.Is(err, ErrTimeout) {
			return err
		}
		if ierr := d.Init(); ierr != nil {
			return retry.Unrecoverable(ierr)
		}
		return err
	})
}
