package engine

import "github.com/dogwalking/workout-engine/internal/models"

// LapTracker fires lap completions at fixed cumulative-distance boundaries
//.
type LapTracker struct {
	lapDistanceM     float64
	lapTargetM       float64
	lapStartDistance float64
	lapStartElapsed  int64
	laps             []models.Lap
}

// NewLapTracker constructs a tracker for the configured lap distance (500
// or 1000 meters, typically).
func NewLapTracker(lapDistanceM float64) *LapTracker {
	return &LapTracker{
		lapDistanceM: lapDistanceM,
		lapTargetM:   lapDistanceM,
	}
}

// Laps returns the laps completed so far, in ascending index order.
func (t *LapTracker) Laps() []models.Lap {
	return t.laps
}

// Seed restores tracker state from a carryover snapshot.
func (t *LapTracker) Seed(laps []models.Lap, lapStartDistanceM float64, lapStartElapsedMs int64) {
	t.laps = append([]models.Lap(nil), laps...)
	t.lapStartDistance = lapStartDistanceM
	t.lapStartElapsedMs(lapStartElapsedMs)
	t.lapTargetM = lapStartDistanceM + t.lapDistanceM
}

func (t *LapTracker) lapStartElapsedMs(ms int64) { t.lapStartElapsed = ms }

// OnUpdate checks whether the latest distance/elapsed crosses one or more
// lap boundaries, returning newly completed laps in ascending index order
//.
func (t *LapTracker) OnUpdate(distanceM float64, elapsedMs int64) []models.Lap {
	var completed []models.Lap
	for distanceM >= t.lapTargetM {
		segDistance := distanceM - t.lapStartDistance
		durationMs := elapsedMs - t.lapStartElapsed
		var paceMsPerKm int64
		if segDistance > 0 {
			paceMsPerKm = int64(float64(durationMs) * 1000.0 / segDistance)
		}
		lap := models.Lap{
			Index:               uint32(len(t.laps) + 1),
			DistanceM:           segDistance,
			DurationMs:          durationMs,
			PaceMsPerKm:         paceMsPerKm,
			CumulativeDistanceM: distanceM,
			ElapsedMs:           elapsedMs,
		}
		t.laps = append(t.laps, lap)
		completed = append(completed, lap)

		t.lapStartDistance = distanceM
		t.lapStartElapsed = elapsedMs
		t.lapTargetM += t.lapDistanceM
	}
	return completed
}
