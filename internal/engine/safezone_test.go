package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dogwalking/workout-engine/internal/models"
)

func TestSafeZoneMonitor_InactiveMonitorNeverEmits(t *testing.T) {
	m := NewSafeZoneMonitor(0, 0, 0, false)
	for i := 0; i < 20; i++ {
		assert.False(t, m.OnAcceptedFix(models.LocationFix{Lat: 50, Lon: 50}))
	}
	assert.Equal(t, 0, m.ViolationCount())
}

func TestSafeZoneMonitor_InsideRadiusNeverEmits(t *testing.T) {
	m := NewSafeZoneMonitor(40.0, -73.0, 500, true)
	for i := 0; i < 20; i++ {
		assert.False(t, m.OnAcceptedFix(models.LocationFix{Lat: 40.0, Lon: -73.0}))
	}
	assert.Equal(t, 0, m.ViolationCount())
}

func TestSafeZoneMonitor_EmitsAtMostOncePerTenViolations(t *testing.T) {
	m := NewSafeZoneMonitor(40.0, -73.0, 10, true)
	outside := models.LocationFix{Lat: 41.0, Lon: -73.0} // far outside a 10m radius

	var emitted int
	for i := 0; i < 10; i++ {
		if m.OnAcceptedFix(outside) {
			emitted++
		}
	}
	assert.Equal(t, 1, emitted, "an advisory must fire exactly once per 10 consecutive violations")
	assert.Equal(t, 10, m.ViolationCount())
}

func TestSafeZoneMonitor_ReenteringResetsTheStreak(t *testing.T) {
	m := NewSafeZoneMonitor(40.0, -73.0, 10, true)
	outside := models.LocationFix{Lat: 41.0, Lon: -73.0}
	inside := models.LocationFix{Lat: 40.0, Lon: -73.0}

	for i := 0; i < 5; i++ {
		m.OnAcceptedFix(outside)
	}
	m.OnAcceptedFix(inside)
	for i := 0; i < 9; i++ {
		assert.False(t, m.OnAcceptedFix(outside))
	}
}
