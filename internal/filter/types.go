package filter

import "time"

// RawFix is a single reading from the location source. Timestamp is the
// device clock in epoch milliseconds.
type RawFix struct {
	TimestampMs int64    `json:"ts_epoch_ms"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	AccuracyM   *float64 `json:"accuracy_m,omitempty"`
	SpeedMps    *float64 `json:"speed_mps,omitempty"`
	BearingDeg  *float64 `json:"bearing_deg,omitempty"`
}

func (f RawFix) Time() time.Time {
	return time.UnixMilli(f.TimestampMs)
}

// Point is what the filter emits on acceptance. Lat/Lon may be smoothed;
// the optional measurements are carried over from the fix untouched.
type Point struct {
	TimestampMs int64
	Lat         float64
	Lon         float64
	AccuracyM   *float64
	SpeedMps    *float64
	BearingDeg  *float64
}

const (
	ReasonOK               = "ok"
	ReasonSmoothed         = "smoothed"
	ReasonForcedAccuracy   = "forced_accuracy"
	ReasonStale            = "stale"
	ReasonAccuracyExceeded = "accuracy_exceeded"
	ReasonJump             = "jump"
	ReasonStill            = "still"
)

type Decision struct {
	Accept bool
	Reason string
	// Forced is set when an inaccurate fix was let through after a long silence.
	Forced bool
	Output *Point
}

// State is the per-session memory of a Filter. Zero timestamps mean "never".
type State struct {
	HasLast       bool
	LastLat       float64
	LastLon       float64
	LastTsMs      int64
	LastAcceptMs  int64
	LastForcedMs  int64
	FirstObservMs int64
	EmaLat        float64
	EmaLon        float64
}
