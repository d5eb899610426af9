package engine

import "github.com/dogwalking/workout-engine/internal/models"

// safeZoneEmitEvery caps the safe-zone advisory to at most once per this
// many accepted fixes (SPEC_FULL §4.12).
const safeZoneEmitEvery = 10

// SafeZoneMonitor is a Walk-mode-only advisory boundary: it never rejects
// fixes (that's GeoFilter's job) and never alters distance; it only
// observes accepted fixes and emits an ErrorObserved{kind: safe_zone_exit}
// at most once per safeZoneEmitEvery accepted fixes while outside the
// configured radius.
type SafeZoneMonitor struct {
	centerLat, centerLon float64
	radiusM              float64
	active               bool

	violationCount   int
	acceptedSinceEmit int
}

// NewSafeZoneMonitor constructs a monitor for an optional center/radius.
// active is false (a no-op monitor) when no safe zone was configured for
// the session.
func NewSafeZoneMonitor(centerLat, centerLon, radiusM float64, active bool) *SafeZoneMonitor {
	return &SafeZoneMonitor{centerLat: centerLat, centerLon: centerLon, radiusM: radiusM, active: active}
}

// ViolationCount returns how many accepted fixes have fallen outside the
// zone since the monitor was constructed.
func (s *SafeZoneMonitor) ViolationCount() int {
	return s.violationCount
}

// OnAcceptedFix checks an accepted GPS fix against the configured safe
// zone, returning true when an advisory should be emitted this call.
func (s *SafeZoneMonitor) OnAcceptedFix(fix models.LocationFix) (shouldEmit bool) {
	if !s.active {
		return false
	}
	distance := haversineMeters(s.centerLat, s.centerLon, fix.Lat, fix.Lon)
	if distance <= s.radiusM {
		s.acceptedSinceEmit = 0
		return false
	}
	s.violationCount++
	s.acceptedSinceEmit++
	if s.acceptedSinceEmit >= safeZoneEmitEvery {
		s.acceptedSinceEmit = 0
		return true
	}
	return false
}
