package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogwalking/workout-engine/internal/models"
)

func TestPaceTrendMsPerKm_NilWithFewerThanTwoLaps(t *testing.T) {
	assert.Nil(t, PaceTrendMsPerKm(nil))
	assert.Nil(t, PaceTrendMsPerKm([]models.Lap{{Index: 1, PaceMsPerKm: 300000}}))
}

func TestPaceTrendMsPerKm_NegativeSlopeForSpeedingUp(t *testing.T) {
	laps := []models.Lap{
		{Index: 1, PaceMsPerKm: 360000},
		{Index: 2, PaceMsPerKm: 330000},
		{Index: 3, PaceMsPerKm: 300000},
	}
	slope := PaceTrendMsPerKm(laps)
	require.NotNil(t, slope)
	assert.Less(t, *slope, 0.0, "pace dropping lap over lap must yield a negative trend")
}

func TestPaceTrendMsPerKm_PositiveSlopeForSlowingDown(t *testing.T) {
	laps := []models.Lap{
		{Index: 1, PaceMsPerKm: 300000},
		{Index: 2, PaceMsPerKm: 330000},
		{Index: 3, PaceMsPerKm: 360000},
	}
	slope := PaceTrendMsPerKm(laps)
	require.NotNil(t, slope)
	assert.Greater(t, *slope, 0.0)
}
