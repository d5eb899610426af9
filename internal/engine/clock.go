package engine

import "github.com/dogwalking/workout-engine/internal/models"

// movingHintWindowMs is the walk-mode window within which a recent GPS
// segment or step delta keeps the clock ticking.
const movingHintWindowMs int64 = 5000

// Clock maintains active elapsed time, diverging between the Run regime
// (wall-clock minus paused intervals) and the Walk regime (sum of active
// windows).
type Clock struct {
	mode models.Mode

	elapsedOffsetMs int64

	// Run regime state.
	startedAtMs       int64
	pausedIntervalsMs int64
	pauseStartedAtMs  int64
	paused            bool

	// Walk regime state.
	activeAccumulatorMs int64
	lastMovingHintMs    int64
	hasMovingHint       bool
	lastTickMs          int64
	hasLastTick         bool
}

// NewClock constructs a clock for the given mode, starting at wall-clock
// startedAtMs with the given resumed offset.
func NewClock(mode models.Mode, startedAtMs int64, elapsedOffsetMs int64) *Clock {
	return &Clock{mode: mode, startedAtMs: startedAtMs, elapsedOffsetMs: elapsedOffsetMs}
}

// ElapsedMs returns the current elapsed time given the latest wall-clock
// tick (nowMs). For Run mode this recomputes directly; for Walk mode it
// reports the accumulator, which callers advance via Tick/NoteMotion/AddActiveMs.
func (c *Clock) ElapsedMs(nowMs int64) int64 {
	if c.mode == models.ModeRun {
		if c.paused {
			return c.elapsedOffsetMs + (c.pauseStartedAtMs - c.startedAtMs) - c.pausedIntervalsMs
		}
		return c.elapsedOffsetMs + (nowMs - c.startedAtMs) - c.pausedIntervalsMs
	}
	return c.elapsedOffsetMs + c.activeAccumulatorMs
}

// Pause records the start of a paused interval (Run) or flushes the active
// accumulator (Walk).
func (c *Clock) Pause(nowMs int64) {
	if c.mode == models.ModeRun {
		if !c.paused {
			c.pauseStartedAtMs = nowMs
			c.paused = true
		}
		return
	}
	c.flushWalkTick(nowMs)
	c.paused = true
}

// Resume appends the just-ended paused interval (Run) or re-arms the
// moving-hint tracking (Walk).
func (c *Clock) Resume(nowMs int64) {
	if c.mode == models.ModeRun {
		if c.paused {
			c.pausedIntervalsMs += nowMs - c.pauseStartedAtMs
			c.paused = false
		}
		return
	}
	c.paused = false
	c.hasLastTick = false
	c.hasMovingHint = false
}

// NoteMotion records that motion was observed (an accepted GPS segment or a
// non-zero step delta) at nowMs — the walk-mode "moving hint".
func (c *Clock) NoteMotion(nowMs int64) {
	if c.mode != models.ModeWalk {
		return
	}
	c.flushWalkTick(nowMs)
	c.lastMovingHintMs = nowMs
	c.hasMovingHint = true
}

// AddActiveMs directly advances the walk-mode accumulator with
// StepIntegrator's stride-derived time-coupling contribution.
func (c *Clock) AddActiveMs(deltaMs int64) {
	if c.mode != models.ModeWalk || c.paused {
		return
	}
	if deltaMs > 0 {
		c.activeAccumulatorMs += deltaMs
	}
}

// Tick advances the walk-mode accumulator using the moving/not-moving rule
// between the last tick and nowMs: time only accrues while within
// movingHintWindowMs of the last observed motion.
func (c *Clock) Tick(nowMs int64) {
	if c.mode != models.ModeWalk || c.paused {
		return
	}
	c.flushWalkTick(nowMs)
}

func (c *Clock) flushWalkTick(nowMs int64) {
	if !c.hasLastTick {
		c.lastTickMs = nowMs
		c.hasLastTick = true
		return
	}
	if c.hasMovingHint && nowMs-c.lastMovingHintMs <= movingHintWindowMs {
		delta := nowMs - c.lastTickMs
		if delta > 0 {
			c.activeAccumulatorMs += delta
		}
	}
	c.lastTickMs = nowMs
}
