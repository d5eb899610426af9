package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogwalking/workout-engine/internal/models"
)

func TestStepIntegrator_DefaultStrideFromHeight(t *testing.T) {
	s := NewStepIntegrator("2026-07-29", 1.8)
	assert.InDelta(t, 1.8*0.415, s.StrideM(), 1e-9)

	s2 := NewStepIntegrator("2026-07-29", 0)
	assert.Equal(t, defaultStrideM, s2.StrideM())
}

func TestStepIntegrator_AccumulatesDeltaFromBaseline(t *testing.T) {
	s := NewStepIntegrator("2026-07-29", 0)
	r1 := s.OnStepReading(models.StepReading{RawCounter: 100, TsMs: 1000}, "2026-07-29")
	assert.Equal(t, uint32(0), r1.SessionSteps)
	assert.Equal(t, uint32(0), r1.DeltaSteps)

	r2 := s.OnStepReading(models.StepReading{RawCounter: 150, TsMs: 2000}, "2026-07-29")
	assert.Equal(t, uint32(50), r2.SessionSteps)
	assert.Equal(t, uint32(50), r2.DeltaSteps)
}

func TestStepIntegrator_SensorResetReanchorsWithoutLosingSteps(t *testing.T) {
	s := NewStepIntegrator("2026-07-29", 0)
	s.OnStepReading(models.StepReading{RawCounter: 1000, TsMs: 1000}, "2026-07-29")
	r2 := s.OnStepReading(models.StepReading{RawCounter: 1100, TsMs: 2000}, "2026-07-29")
	require.Equal(t, uint32(100), r2.SessionSteps)

	// Device reboots: raw counter drops below the current base.
	r3 := s.OnStepReading(models.StepReading{RawCounter: 5, TsMs: 3000}, "2026-07-29")
	assert.GreaterOrEqual(t, r3.SessionSteps, r2.SessionSteps, "monotonicity clamp must never move backward")
}

func TestStepIntegrator_MidnightRolloverIsFlagged(t *testing.T) {
	s := NewStepIntegrator("2026-07-29", 0)
	s.OnStepReading(models.StepReading{RawCounter: 100, TsMs: 1000}, "2026-07-29")
	s.OnStepReading(models.StepReading{RawCounter: 500, TsMs: 2000}, "2026-07-29")

	result := s.OnStepReading(models.StepReading{RawCounter: 50, TsMs: 3000}, "2026-07-30")
	assert.True(t, result.MidnightRollover)
}

func TestStepIntegrator_PausedReadingsDoNotAdvanceSteps(t *testing.T) {
	s := NewStepIntegrator("2026-07-29", 0)
	s.OnStepReading(models.StepReading{RawCounter: 100, TsMs: 1000}, "2026-07-29")
	s.SetPaused(true)
	r := s.OnStepReading(models.StepReading{RawCounter: 300, TsMs: 2000}, "2026-07-29")
	assert.Equal(t, uint32(0), r.DeltaSteps)

	s.SetPaused(false)
	r2 := s.OnStepReading(models.StepReading{RawCounter: 350, TsMs: 3000}, "2026-07-29")
	assert.Equal(t, uint32(200), r2.SessionSteps, "steps recorded strictly after the pause snapshot must not count once resumed")
}

func TestStepIntegrator_ActiveTimeDeltaUsesStrideAndWalkSpeed(t *testing.T) {
	s := NewStepIntegrator("2026-07-29", 0)
	s.SetStride(0.75)
	ms := s.ActiveTimeDeltaMs(10)
	// 10 steps * 0.75m / 1.25 m/s = 6s.
	assert.Equal(t, int64(6000), ms)
}

func TestStepIntegrator_AdaptStrideRequiresQualifyingSample(t *testing.T) {
	s := NewStepIntegrator("2026-07-29", 0)
	s.SetStride(0.75)
	s.AdaptStride(5, 5) // below the 10-step/10m qualification thresholds
	assert.Equal(t, 0.75, s.StrideM())

	s.AdaptStride(15, 15) // observed 1.0m stride, within the plausible range; should adapt
	assert.InDelta(t, 0.8, s.StrideM(), 1e-9)
}
