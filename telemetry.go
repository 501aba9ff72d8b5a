package dw1000

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// Publisher delivers a message to a topic of a pub/sub broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ProximityReport is published when a tag comes within range of an anchor.
type ProximityReport struct {
	AnchorID  string  `json:"anchor_id"`
	TagID     string  `json:"tag_id"`
	Distance  float64 `json:"distance"`
	Timestamp int64   `json:"timestamp"`
}

// StatusReport is the periodic heartbeat of an anchor.
type StatusReport struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// ReporterConfig configures a ProximityReporter.
type ReporterConfig struct {
	// AnchorID names the anchor in topics and reports.
	AnchorID string
	// Threshold is the largest distance in meters that is reported.
	// Defaults to 5 if not provided.
	Threshold float64
	// Clock stamps reports and paces heartbeats.
	// Defaults to the real clock.
	Clock Clock
}

// ProximityReporter publishes distances below a threshold.
// This type is concurrent safe.
type ProximityReporter struct {
	pub      Publisher
	anchorID string
	clock    Clock

	mu        sync.Mutex
	threshold float64
}

// NewProximityReporter returns a reporter publishing through pub.
func NewProximityReporter(pub Publisher, c ReporterConfig) (*ProximityReporter, error) {
	if pub == nil {
		return nil, invalidArgument("publisher not configured")
	}
	if c.AnchorID == "" {
		return nil, invalidArgument("anchor id not configured")
	}
	if c.Threshold == 0 {
		c.Threshold = 5
	}
	if c.Threshold < 0 || math.IsNaN(c.Threshold) {
		return nil, invalidArgument("threshold %v must be positive", c.Threshold)
	}
	if c.Clock == nil {
		c.Clock = RealClock{}
	}
	return &ProximityReporter{pub: pub, anchorID: c.AnchorID, clock: c.Clock, threshold: c.Threshold}, nil
}

func (r *ProximityReporter) DataTopic() string   { return "ranging/data/" + r.anchorID }
func (r *ProximityReporter) StatusTopic() string { return "ranging/status/" + r.anchorID }
func (r *ProximityReporter) ConfigTopic() string { return "config/anchor/" + r.anchorID }

// Threshold returns the current reporting threshold in meters.
func (r *ProximityReporter) Threshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// Report publishes the distance of tag if it is within the threshold. It
// returns whether a report was published.
func (r *ProximityReporter) Report(ctx context.Context, tag string, distance float64) (bool, error) {
	if distance > r.Threshold() {
		return false, nil
	}
	b, err := json.Marshal(ProximityReport{
		AnchorID:  r.anchorID,
		TagID:     tag,
		Distance:  distance,
		Timestamp: r.clock.Now().Unix(),
	})
	if err != nil {
		return false, err
	}
	if err := r.pub.Publish(ctx, r.DataTopic(), b); err != nil {
		return false, fmt.Errorf("publish proximity report: %w", err)
	}
	return true, nil
}

// ReportMeasurement reports a measurement of the device d.
func (r *ProximityReporter) ReportMeasurement(ctx context.Context, d *Device, m Measurement) (bool, error) {
	return r.Report(ctx, m.Peer.String(), d.Distance(m))
}

// HandleConfig applies a configuration message such as
// {"proximity_threshold": 3.5}. Unknown fields are ignored.
func (r *ProximityReporter) HandleConfig(payload []byte) error {
	var cfg struct {
		ProximityThreshold *float64 `json:"proximity_threshold"`
	}
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return invalidArgument("config message: %v", err)
	}
	if cfg.ProximityThreshold == nil {
		return nil
	}
	t := *cfg.ProximityThreshold
	if t <= 0 || math.IsNaN(t) {
		return invalidArgument("threshold %v must be positive", t)
	}
	r.mu.Lock()
	r.threshold = t
	r.mu.Unlock()
	globalLogger.Info(fmt.Sprintf("Updated proximity threshold to %.2fm", t))
	return nil
}

// Heartbeat publishes one status report.
func (r *ProximityReporter) Heartbeat(ctx context.Context) error {
	b, err := json.Marshal(StatusReport{Status: "active", Timestamp: r.clock.Now().Unix()})
	if err != nil {
		return err
	}
	if err := r.pub.Publish(ctx, r.StatusTopic(), b); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// RunHeartbeat publishes a status report every interval until ctx is done.
// Publish failures are logged and do not stop the loop.
func (r *ProximityReporter) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return invalidArgument("heartbeat interval %s must be positive", interval)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Heartbeat(ctx); err != nil {
			globalLogger.Warn(err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(interval):
		}
	}
}
