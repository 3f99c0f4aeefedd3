package filter

import (
	"time"

	"fieldtrack-agent/internal/shared/geo"

	"github.com/benbjohnson/clock"
)

const (
	staleAfter = 15 * time.Second

	forceAfterSilence  = 45 * time.Second
	forceMinSpacing    = 30 * time.Second
	forceMaxAccuracyM  = 900.0
	smoothAlphaFloor   = 0.2
	minImpliedInterval = 1.0 // seconds
)

// Filter decides whether a raw fix becomes a track point. A Filter belongs to
// one tracking session and must not be shared between goroutines.
type Filter struct {
	clock clock.Clock
	state State
}

func New(c clock.Clock) *Filter {
	if c == nil {
		c = clock.New()
	}
	return &Filter{clock: c}
}

// Reset forgets everything learned in the current session.
func (f *Filter) Reset() {
	f.state = State{}
}

func (f *Filter) State() State {
	return f.state
}

// Process runs the fix through staleness, accuracy, teleport, stationary and
// smoothing stages. State only changes when the fix is accepted, apart from
// the first-observation timestamp which is set on the very first call.
func (f *Filter) Process(fix RawFix, mode Mode) Decision {
	t := ThresholdsFor(mode)
	nowMs := f.clock.Now().UnixMilli()
	if nowMs-fix.TimestampMs > staleAfter.Milliseconds() {
		return reject(ReasonStale)
	}
	if f.state.FirstObservMs == 0 {
		f.state.FirstObservMs = nowMs
	}

	ref := f.state.FirstObservMs
	if f.state.HasLast {
		ref = f.state.LastAcceptMs
	}
	elapsed := time.Duration(nowMs-ref) * time.Millisecond

	forced := false
	if fix.AccuracyM != nil && *fix.AccuracyM > t.AccuracyCeiling(elapsed) {
		spacedOut := f.state.LastForcedMs == 0 ||
			time.Duration(nowMs-f.state.LastForcedMs)*time.Millisecond >= forceMinSpacing
		if elapsed < forceAfterSilence || !spacedOut || *fix.AccuracyM > forceMaxAccuracyM {
			return reject(ReasonAccuracyExceeded)
		}
		forced = true
	}

	if !f.state.HasLast {
		return f.accept(fix, fix.Lat, fix.Lon, nowMs, forced, reasonFor(forced, ReasonOK))
	}

	dist := geo.DistanceM(f.state.LastLat, f.state.LastLon, fix.Lat, fix.Lon)
	dtMs := fix.TimestampMs - f.state.LastTsMs
	dtSec := float64(dtMs) / 1000
	if dtSec < minImpliedInterval {
		dtSec = minImpliedInterval
	}
	speed := dist / dtSec
	if fix.SpeedMps != nil && *fix.SpeedMps > speed {
		speed = *fix.SpeedMps
	}

	if (dist > t.JumpDistanceM && speed > t.JumpSpeedMps) ||
		(dist > t.HugeJumpDistanceM && speed > t.HugeJumpSpeedMps) {
		return reject(ReasonJump)
	}

	if forced {
		return f.accept(fix, fix.Lat, fix.Lon, nowMs, true, ReasonForcedAccuracy)
	}

	if dist < t.StillDistanceM && speed < t.StillSpeedMps &&
		time.Duration(dtMs)*time.Millisecond < t.StillMinInterval {
		return reject(ReasonStill)
	}

	if speed < t.SmoothMaxSpeedMps && fix.AccuracyM != nil &&
		*fix.AccuracyM > t.ExcellentAccuracy && dist < t.SmoothMaxJumpM {
		alpha := t.SmoothAlpha * clamp(t.ExcellentAccuracy / *fix.AccuracyM, smoothAlphaFloor, 1)
		lat := f.state.EmaLat + alpha*(fix.Lat-f.state.EmaLat)
		lon := f.state.EmaLon + alpha*(fix.Lon-f.state.EmaLon)
		return f.accept(fix, lat, lon, nowMs, false, ReasonSmoothed)
	}

	return f.accept(fix, fix.Lat, fix.Lon, nowMs, false, ReasonOK)
}

func (f *Filter) accept(fix RawFix, lat, lon float64, nowMs int64, forced bool, reason string) Decision {
	f.state.HasLast = true
	f.state.LastLat = lat
	f.state.LastLon = lon
	f.state.LastTsMs = fix.TimestampMs
	f.state.LastAcceptMs = nowMs
	f.state.EmaLat = lat
	f.state.EmaLon = lon
	if forced {
		f.state.LastForcedMs = nowMs
	}

	return Decision{
		Accept: true,
		Reason: reason,
		Forced: forced,
		Output: &Point{
			TimestampMs: fix.TimestampMs,
			Lat:         lat,
			Lon:         lon,
			AccuracyM:   fix.AccuracyM,
			SpeedMps:    fix.SpeedMps,
			BearingDeg:  fix.BearingDeg,
		},
	}
}

func reject(reason string) Decision {
	return Decision{Reason: reason}
}

func reasonFor(forced bool, normal string) string {
	if forced {
		return ReasonForcedAccuracy
	}
	return normal
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
