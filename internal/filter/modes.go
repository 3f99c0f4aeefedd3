package filter

import (
	"fmt"
	"strings"
	"time"
)

type Mode int

const (
	ModeEco Mode = iota
	ModeNormal
	ModePrecise
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeEco:
		return "eco"
	case ModeNormal:
		return "normal"
	case ModePrecise:
		return "precise"
	case ModeAuto:
		return "auto"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eco":
		return ModeEco, nil
	case "normal", "":
		return ModeNormal, nil
	case "precise":
		return ModePrecise, nil
	case "auto":
		return ModeAuto, nil
	}
	return 0, fmt.Errorf("unknown tracking mode %q", s)
}

// Thresholds is the numeric table one mode runs with.
type Thresholds struct {
	// Accuracy ceilings (meters), widened by time since the last accepted fix.
	AccuracyBase    float64
	AccuracyMid     float64
	AccuracyWorst   float64
	AccuracyExtreme float64

	JumpDistanceM     float64
	JumpSpeedMps      float64
	HugeJumpDistanceM float64
	HugeJumpSpeedMps  float64

	StillDistanceM   float64
	StillSpeedMps    float64
	StillMinInterval time.Duration

	SmoothMaxSpeedMps float64
	ExcellentAccuracy float64
	SmoothMaxJumpM    float64
	SmoothAlpha       float64
}

var (
	ecoThresholds = Thresholds{
		AccuracyBase: 50, AccuracyMid: 100, AccuracyWorst: 200, AccuracyExtreme: 400,
		JumpDistanceM: 1500, JumpSpeedMps: 20, HugeJumpDistanceM: 5000, HugeJumpSpeedMps: 8,
		StillDistanceM: 10, StillSpeedMps: 0.8, StillMinInterval: 30 * time.Second,
		SmoothMaxSpeedMps: 3, ExcellentAccuracy: 10, SmoothMaxJumpM: 50, SmoothAlpha: 0.5,
	}
	normalThresholds = Thresholds{
		AccuracyBase: 30, AccuracyMid: 60, AccuracyWorst: 120, AccuracyExtreme: 250,
		JumpDistanceM: 1500, JumpSpeedMps: 20, HugeJumpDistanceM: 5000, HugeJumpSpeedMps: 8,
		StillDistanceM: 4, StillSpeedMps: 0.5, StillMinInterval: 10 * time.Second,
		SmoothMaxSpeedMps: 2, ExcellentAccuracy: 8, SmoothMaxJumpM: 30, SmoothAlpha: 0.6,
	}
	preciseThresholds = Thresholds{
		AccuracyBase: 20, AccuracyMid: 40, AccuracyWorst: 80, AccuracyExtreme: 160,
		JumpDistanceM: 1000, JumpSpeedMps: 15, HugeJumpDistanceM: 3000, HugeJumpSpeedMps: 6,
		StillDistanceM: 2, StillSpeedMps: 0.3, StillMinInterval: 3 * time.Second,
		SmoothMaxSpeedMps: 1.5, ExcellentAccuracy: 5, SmoothMaxJumpM: 20, SmoothAlpha: 0.7,
	}
)

// ThresholdsFor returns the table of a mode. AUTO runs on NORMAL's table when
// it reaches the filter unresolved. Any other value is a programming error.
func ThresholdsFor(m Mode) Thresholds {
	switch m {
	case ModeEco:
		return ecoThresholds
	case ModeNormal, ModeAuto:
		return normalThresholds
	case ModePrecise:
		return preciseThresholds
	}
	panic(fmt.Sprintf("filter: unknown mode %d", int(m)))
}

const (
	tierMidAfter     = 30 * time.Second
	tierWorstAfter   = 120 * time.Second
	tierExtremeAfter = 300 * time.Second
)

// AccuracyCeiling is the largest accuracy radius accepted after elapsed time
// without an accepted fix. It never shrinks as elapsed grows.
func (t Thresholds) AccuracyCeiling(elapsed time.Duration) float64 {
	switch {
	case elapsed < tierMidAfter:
		return t.AccuracyBase
	case elapsed < tierWorstAfter:
		return t.AccuracyMid
	case elapsed < tierExtremeAfter:
		return t.AccuracyWorst
	default:
		return t.AccuracyExtreme
	}
}

// ModeDecider resolves AUTO into a concrete mode from the fix itself.
type ModeDecider interface {
	Decide(fix RawFix) Mode
}

// SpeedAccuracyDecider picks PRECISE when moving fast, ECO when the fix is
// poor or the device is barely moving, NORMAL otherwise.
type SpeedAccuracyDecider struct {
	FastMps      float64
	SlowMps      float64
	PoorAccuracy float64
}

func DefaultDecider() SpeedAccuracyDecider {
	return SpeedAccuracyDecider{FastMps: 8, SlowMps: 0.5, PoorAccuracy: 100}
}

func (d SpeedAccuracyDecider) Decide(fix RawFix) Mode {
	if fix.SpeedMps != nil && *fix.SpeedMps >= d.FastMps {
		return ModePrecise
	}
	if fix.AccuracyM != nil && *fix.AccuracyM > d.PoorAccuracy {
		return ModeEco
	}
	if fix.SpeedMps != nil && *fix.SpeedMps < d.SlowMps {
		return ModeEco
	}
	return ModeNormal
}

// Resolve maps AUTO through the decider and returns other modes unchanged.
func Resolve(m Mode, d ModeDecider, fix RawFix) Mode {
	if m != ModeAuto || d == nil {
		return m
	}
	return d.Decide(fix)
}
