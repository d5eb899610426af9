package engine

import (
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/dogwalking/workout-engine/internal/models"
)

// GhostRunner compares the live session against a past session used as a
// pacer, emitting a GhostDelta at each completed kilometer boundary.
type GhostRunner struct {
	target *models.GhostTarget
	fn     interp.PiecewiseLinear

	maxDistanceM float64
	maxKmIndex   uint32
	nextKmIndex  uint32

	goalCompleted bool
}

// NewGhostRunner builds a linear interpolant over target's control points;
// lookups outside the recorded range are clamped by ghostElapsedAt. A nil
// target, or one with no control points, disables the runner entirely.
func NewGhostRunner(target *models.GhostTarget) *GhostRunner {
	g := &GhostRunner{target: target, nextKmIndex: 1}
	if target == nil || len(target.Points) == 0 {
		return g
	}
	last := target.Points[len(target.Points)-1]
	g.maxDistanceM = last.CumulativeDistanceM
	g.maxKmIndex = uint32(math.Ceil(g.maxDistanceM/1000.0)) + 1

	if len(target.Points) < 2 {
		return g
	}
	xs := make([]float64, len(target.Points))
	ys := make([]float64, len(target.Points))
	for i, p := range target.Points {
		xs[i] = p.CumulativeDistanceM
		ys[i] = float64(p.ElapsedMs)
	}
	_ = g.fn.Fit(xs, ys)
	return g
}

// Active reports whether this runner has a usable target.
func (g *GhostRunner) Active() bool {
	return g.target != nil && len(g.target.Points) > 0
}

// ghostElapsedAt interpolates the target's elapsed time at distanceM,
// clamping to the first/last control point outside the recorded range.
func (g *GhostRunner) ghostElapsedAt(distanceM float64) float64 {
	pts := g.target.Points
	if len(pts) == 1 {
		return float64(pts[0].ElapsedMs)
	}
	if distanceM <= pts[0].CumulativeDistanceM {
		return float64(pts[0].ElapsedMs)
	}
	if distanceM >= pts[len(pts)-1].CumulativeDistanceM {
		return float64(pts[len(pts)-1].ElapsedMs)
	}
	return g.fn.Predict(distanceM)
}

// GhostDelta is one emitted km-boundary comparison.
type GhostDelta struct {
	Km          uint32
	DiffSeconds int32
}

// OnUpdate advances next_km_index while the live session has reached or
// passed it, returning one GhostDelta per crossed kilometer in ascending
// order.
func (g *GhostRunner) OnUpdate(distanceM float64, elapsedMs int64) []GhostDelta {
	if !g.Active() {
		return nil
	}
	var deltas []GhostDelta
	for distanceM >= float64(g.nextKmIndex)*1000.0 && g.nextKmIndex <= g.maxKmIndex {
		targetElapsed := g.ghostElapsedAt(float64(g.nextKmIndex) * 1000.0)
		diffMs := float64(elapsedMs) - targetElapsed
		deltas = append(deltas, GhostDelta{
			Km:          g.nextKmIndex,
			DiffSeconds: int32(math.Round(diffMs / 1000.0)),
		})
		g.nextKmIndex++
	}
	return deltas
}

// NoteGoalCompleted records that the session's goal fired, used by Finish
// to compute GhostResult.Success.
func (g *GhostRunner) NoteGoalCompleted() {
	g.goalCompleted = true
}

// Finish computes the end-of-session GhostResult comparing the live
// session's final distance/duration against the ghost's last control
// point.
func (g *GhostRunner) Finish(distanceM float64, durationMs int64) *models.GhostResult {
	if !g.Active() {
		return nil
	}
	last := g.target.Points[len(g.target.Points)-1]
	diffSeconds := int32(math.Round(float64(durationMs-last.ElapsedMs) / 1000.0))
	return &models.GhostResult{
		TargetID:         g.target.ID,
		TargetDistanceM:  last.CumulativeDistanceM,
		TargetDurationMs: last.ElapsedMs,
		Success:          g.goalCompleted && diffSeconds < 0,
		DiffSeconds:      diffSeconds,
	}
}

// BuildGhostTarget converts a persisted session record into a ghost target
// usable as a pacer, with one control point per recorded lap plus a final
// point for the session's overall distance/duration when the laps don't
// already reach it.
func BuildGhostTarget(rec models.SessionRecord) models.GhostTarget {
	points := make([]models.GhostPoint, 0, len(rec.Laps)+1)
	for _, lap := range rec.Laps {
		points = append(points, models.GhostPoint{
			CumulativeDistanceM: lap.CumulativeDistanceM,
			ElapsedMs:           lap.ElapsedMs,
		})
	}
	if len(points) == 0 || points[len(points)-1].CumulativeDistanceM < rec.DistanceM {
		points = append(points, models.GhostPoint{
			CumulativeDistanceM: rec.DistanceM,
			ElapsedMs:           rec.DurationMs,
		})
	}
	return models.GhostTarget{ID: rec.ID, Points: points}
}

// SelectGhostTarget picks a ghost target from candidates: prefer a past
// session within ±500 m of hintDistanceM (when hintDistanceM > 0),
// otherwise any eligible session; among eligible candidates pick the
// minimum duration. A session is eligible only if it yields at least one
// control point.
func SelectGhostTarget(candidates []models.GhostTarget, hintDistanceM float64) *models.GhostTarget {
	var eligible []models.GhostTarget
	for _, c := range candidates {
		if len(c.Points) >= 1 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	pool := eligible
	if hintDistanceM > 0 {
		var near []models.GhostTarget
		for _, c := range eligible {
			last := c.Points[len(c.Points)-1]
			if math.Abs(last.CumulativeDistanceM-hintDistanceM) <= 500.0 {
				near = append(near, c)
			}
		}
		if len(near) > 0 {
			pool = near
		}
	}

	best := pool[0]
	for _, c := range pool[1:] {
		if c.Points[len(c.Points)-1].ElapsedMs < best.Points[len(best.Points)-1].ElapsedMs {
			best = c
		}
	}
	return &best
}
