package engine

import "github.com/dogwalking/workout-engine/internal/models"

// GoalWatcher fires a one-shot GoalReached notification the first time a
// configured distance or time goal is met.
type GoalWatcher struct {
	goal    *models.GoalSpec
	reached bool
}

// NewGoalWatcher constructs a watcher for an optional goal. A nil goal (or
// GoalNone) never fires.
func NewGoalWatcher(goal *models.GoalSpec) *GoalWatcher {
	return &GoalWatcher{goal: goal}
}

// Seed marks the goal as already reached, for carryover resume when the
// persisted snapshot already crossed the threshold.
func (w *GoalWatcher) Seed(reached bool) {
	w.reached = reached
}

// Reached reports whether the goal has already fired.
func (w *GoalWatcher) Reached() bool {
	return w.reached
}

// ProgressPct returns the current progress toward the goal, 0-100, or nil
// if no goal is configured.
func (w *GoalWatcher) ProgressPct(distanceM float64, elapsedMs int64) *float32 {
	if w.goal == nil || w.goal.Kind == models.GoalNone || w.goal.Value == 0 {
		return nil
	}
	var pct float64
	switch w.goal.Kind {
	case models.GoalDistance:
		pct = distanceM / float64(w.goal.Value) * 100.0
	case models.GoalTime:
		pct = float64(elapsedMs) / float64(w.goal.Value) * 100.0
	}
	if pct > 100 {
		pct = 100
	}
	out := float32(pct)
	return &out
}

// Check evaluates the goal against the latest distance/elapsed and reports
// whether it has just been reached (only ever true once per watcher).
func (w *GoalWatcher) Check(distanceM float64, elapsedMs int64) (justReached bool) {
	if w.reached || w.goal == nil {
		return false
	}
	switch w.goal.Kind {
	case models.GoalDistance:
		if distanceM >= float64(w.goal.Value) {
			w.reached = true
			return true
		}
	case models.GoalTime:
		if elapsedMs >= int64(w.goal.Value) {
			w.reached = true
			return true
		}
	}
	return false
}
