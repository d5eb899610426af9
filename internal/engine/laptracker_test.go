package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLapTracker_FiresAtEachFixedDistanceBoundary(t *testing.T) {
	lt := NewLapTracker(1000)

	completed := lt.OnUpdate(500, 300000)
	assert.Empty(t, completed)

	completed = lt.OnUpdate(1000, 600000)
	require.Len(t, completed, 1)
	assert.Equal(t, uint32(1), completed[0].Index)
	assert.Equal(t, 1000.0, completed[0].DistanceM)
	assert.Equal(t, int64(600000), completed[0].DurationMs)
}

func TestLapTracker_EmitsMultipleLapsInAscendingOrderForOneUpdate(t *testing.T) {
	lt := NewLapTracker(1000)

	completed := lt.OnUpdate(3200, 1200000)
	require.Len(t, completed, 3)
	assert.Equal(t, uint32(1), completed[0].Index)
	assert.Equal(t, uint32(2), completed[1].Index)
	assert.Equal(t, uint32(3), completed[2].Index)
	assert.Len(t, lt.Laps(), 3)
}

func TestLapTracker_SeedResumesFromCarryoverLaps(t *testing.T) {
	lt := NewLapTracker(1000)
	seedLaps := lt.OnUpdate(1000, 500000)
	require.Len(t, seedLaps, 1)

	resumed := NewLapTracker(1000)
	resumed.Seed(lt.Laps(), 1000, 500000)

	completed := resumed.OnUpdate(2000, 1000000)
	require.Len(t, completed, 1)
	assert.Equal(t, uint32(2), completed[0].Index)
}
