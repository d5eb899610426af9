package engine

import (
	"time"

	"github.com/dogwalking/workout-engine/internal/models"
)

// defaultStrideM is used when no height-derived stride has been configured
//.
const defaultStrideM = 0.75

// walkStrideSpeedMps is the constant used to convert a step-derived
// distance into an active-time contribution.
const walkStrideSpeedMps = 1.25

// StepIntegrator converts a monotonic device step counter into a reliable
// session step count across sensor resets, pauses, and midnight rollovers
//.
type StepIntegrator struct {
	baseCounter      *uint64
	pausedBase       *uint64
	sessionStepsOffset uint32
	lastSessionSteps uint32

	strideM float64

	currentDateKey string

	paused bool
}

// NewStepIntegrator constructs an integrator with the given starting
// date-key (the calendar date of session start, local wall clock) and an
// initial stride estimate.
func NewStepIntegrator(dateKey string, heightM float64) *StepIntegrator {
	stride := defaultStrideM
	if heightM > 0 {
		stride = heightM * 0.415
	}
	return &StepIntegrator{strideM: stride, currentDateKey: dateKey}
}

// SetStride overrides the current stride estimate.
func (s *StepIntegrator) SetStride(strideM float64) {
	if strideM > 0 {
		s.strideM = strideM
	}
}

// StrideM returns the current stride estimate in meters.
func (s *StepIntegrator) StrideM() float64 {
	return s.strideM
}

// SetOffsets re-anchors the integrator after a carryover resume, so the
// session's step count continues from the persisted value.
func (s *StepIntegrator) SetOffsets(sessionStepsOffset uint32, lastSessionSteps uint32) {
	s.sessionStepsOffset = sessionStepsOffset
	s.lastSessionSteps = lastSessionSteps
}

// SetPaused toggles pause behavior.
func (s *StepIntegrator) SetPaused(paused bool) {
	s.paused = paused
	if !paused {
		// Resuming: paused_base remains set until the next reading arrives
		// with raw >= paused_base (spec step 3); nothing to do here.
	}
}

// StepResult is the outcome of feeding one StepReading into the integrator.
type StepResult struct {
	SessionSteps   uint32
	DeltaSteps     uint32
	MidnightRollover bool
	MidnightDelta  uint32
}

// OnStepReading reanchors and accumulates the raw pedometer counter into
// session steps. dateKey is the calendar date (YYYY-MM-DD, local wall
// clock) of reading.TsMs.
func (s *StepIntegrator) OnStepReading(reading models.StepReading, dateKey string) StepResult {
	if s.paused {
		pb := reading.RawCounter
		s.pausedBase = &pb
		return StepResult{SessionSteps: s.lastSessionSteps}
	}

	var midnightDelta uint32
	rolled := false
	if s.currentDateKey != "" && dateKey != s.currentDateKey && s.baseCounter != nil {
		previousBase := *s.baseCounter
		newBase := reading.RawCounter
		if reading.RawCounter >= previousBase {
			midnightDelta = uint32(reading.RawCounter - previousBase)
		}
		s.baseCounter = &newBase
		s.currentDateKey = dateKey
		rolled = true
		s.sessionStepsOffset += midnightDelta
	} else if s.currentDateKey == "" {
		s.currentDateKey = dateKey
	}

	if s.baseCounter == nil || reading.RawCounter < *s.baseCounter {
		base := reading.RawCounter
		s.baseCounter = &base
	}

	if s.pausedBase != nil && reading.RawCounter >= *s.pausedBase {
		shift := reading.RawCounter - *s.pausedBase
		newBase := *s.baseCounter + shift
		s.baseCounter = &newBase
		s.pausedBase = nil
	}

	raw := int64(reading.RawCounter) - int64(*s.baseCounter)
	if raw < 0 {
		raw = 0
	}
	sessionSteps := uint32(raw) + s.sessionStepsOffset

	deltaSteps := uint32(0)
	if sessionSteps > s.lastSessionSteps {
		deltaSteps = sessionSteps - s.lastSessionSteps
	}

	// Monotonicity clamp (spec step 5): never move backward.
	if sessionSteps < s.lastSessionSteps {
		sessionSteps = s.lastSessionSteps
	} else {
		s.lastSessionSteps = sessionSteps
	}

	return StepResult{
		SessionSteps:     sessionSteps,
		DeltaSteps:       deltaSteps,
		MidnightRollover: rolled,
		MidnightDelta:    midnightDelta,
	}
}

// ActiveTimeDeltaMs converts a step delta into a walk-mode clock
// contribution: Δt = Δsteps × stride / 1.25 m/s.
func (s *StepIntegrator) ActiveTimeDeltaMs(deltaSteps uint32) int64 {
	if deltaSteps == 0 {
		return 0
	}
	seconds := (float64(deltaSteps) * s.strideM) / walkStrideSpeedMps
	return int64(seconds * float64(time.Second/time.Millisecond))
}

// AdaptStride applies the EMA stride adaptation when a GPS segment and a
// concurrent step delta both qualify.
func (s *StepIntegrator) AdaptStride(segmentM float64, stepDelta uint32) {
	if stepDelta < 10 || segmentM < 10 {
		return
	}
	observed := segmentM / float64(stepDelta)
	if observed < 0.4 || observed > 1.2 {
		return
	}
	s.strideM = 0.8*s.strideM + 0.2*observed
}

// LastSessionSteps returns the last reported, monotonically clamped step count.
func (s *StepIntegrator) LastSessionSteps() uint32 {
	return s.lastSessionSteps
}
