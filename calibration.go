package dw1000

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// CalibrationSample is the pair of intervals measured by one exchange over a
// known distance.
type CalibrationSample struct {
	// RoundTrip is R4-T1 on the initiator.
	RoundTrip uint64
	// Reply is T3-R2 on the responder.
	Reply uint64
}

// SampleOf returns the calibration sample of m.
func SampleOf(m Measurement) CalibrationSample {
	roundTrip, reply := m.Deltas()
	return CalibrationSample{RoundTrip: roundTrip, Reply: reply}
}

// RawOffset returns the delay contained in s once the flight time over
// distance meters is removed.
func RawOffset(s CalibrationSample, distance float64) float64 {
	flight := 2 * distance / (TimeUnitSeconds * SpeedOfLight)
	return float64(s.RoundTrip) - float64(s.Reply) - flight
}

// RemoveOutliers drops values outside [Q1-1.5*IQR, Q3+1.5*IQR], Q1 and Q3
// being the sorted values at n/4 and 3n/4. Order is preserved.
func RemoveOutliers(data []float64) []float64 {
	if len(data) == 0 {
		return nil
	}
	sorted := slices.Clone(data)
	slices.Sort(sorted)
	n := len(sorted)
	q1, q3 := sorted[n/4], sorted[3*n/4]
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr

	out := make([]float64, 0, n)
	for _, x := range data {
		if x >= lo && x <= hi {
			out = append(out, x)
		}
	}
	return out
}

// EstimateAntennaDelay returns the mean raw offset of samples taken at
// distance meters, outliers removed.
func EstimateAntennaDelay(samples []CalibrationSample, distance float64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrPkg, ErrNoSamples)
	}
	if err := validDistance(distance); err != nil {
		return 0, err
	}
	offsets := make([]float64, len(samples))
	for i, s := range samples {
		offsets[i] = RawOffset(s, distance)
	}
	kept := RemoveOutliers(offsets)
	if len(kept) == 0 {
		return 0, fmt.Errorf("%w: %w: every sample was an outlier", ErrPkg, ErrNoSamples)
	}
	return stat.Mean(kept, nil), nil
}

// StartCalibration collects sampleCount exchanges with the device placed
// distance meters from peer and returns the estimated antenna delay. With a
// zero peer the device answers exchanges instead of starting them.
//
// The result is not applied; store it with SetAntennaDelay or in
// RadioConfig.AntennaDelay.
func (d *Device) StartCalibration(ctx context.Context, peer Address, sampleCount int, distance float64) (float64, error) {
	if sampleCount <= 0 {
		return 0, invalidArgument("sample count %d must be positive", sampleCount)
	}
	if err := validDistance(distance); err != nil {
		return 0, err
	}
	exchange := d.TWRResponse
	if peer.Width() != 0 {
		exchange = func(ctx context.Context) (Measurement, bool, error) {
			return d.TWR(ctx, peer)
		}
	}

	d.log.Info("Starting calibration...")
	// Each sample gets a bounded number of attempts; a run of failures that
	// long means the peer is gone.
	const attemptsPerSample = 5
	samples := make([]CalibrationSample, 0, sampleCount)
	for len(samples) < sampleCount {
		err := d.retry(ctx, attemptsPerSample, "calibration", func() error {
			m, ok, err := exchange(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %w: calibration exchange", ErrPkg, ErrTimeout)
			}
			samples = append(samples, SampleOf(m))
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("calibration stopped after %d of %d samples: %w", len(samples), sampleCount, err)
		}
	}

	delay, err := EstimateAntennaDelay(samples, distance)
	if err != nil {
		return 0, err
	}
	offsets := make([]float64, len(samples))
	for i, s := range samples {
		offsets[i] = RawOffset(s, distance)
	}
	d.log.Info(fmt.Sprintf("Calibration done: %d samples, antenna delay %.2f ticks, spread %.2f ticks",
		len(samples), delay, stat.StdDev(offsets, nil)))
	return delay, nil
}

func validDistance(distance float64) error {
	if distance < 0 || math.IsNaN(distance) || math.IsInf(distance, 0) {
		return invalidArgument("calibration distance %v must be a finite, non-negative number", distance)
	}
	return nil
}
