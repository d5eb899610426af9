package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dogwalking/workout-engine/internal/models"
)

func TestGoalWatcher_DistanceGoalFiresOnceAtThreshold(t *testing.T) {
	w := NewGoalWatcher(&models.GoalSpec{Kind: models.GoalDistance, Value: 5000})

	assert.False(t, w.Check(4999, 0))
	assert.True(t, w.Check(5000, 0))
	assert.False(t, w.Check(6000, 0), "must not fire a second time")
	assert.True(t, w.Reached())
}

func TestGoalWatcher_TimeGoalFiresAtThreshold(t *testing.T) {
	w := NewGoalWatcher(&models.GoalSpec{Kind: models.GoalTime, Value: 60000})
	assert.False(t, w.Check(0, 59999))
	assert.True(t, w.Check(0, 60000))
}

func TestGoalWatcher_NilGoalNeverFires(t *testing.T) {
	w := NewGoalWatcher(nil)
	assert.False(t, w.Check(1000000, 1000000))
	assert.Nil(t, w.ProgressPct(100, 100))
}

func TestGoalWatcher_ProgressPctClampsAt100(t *testing.T) {
	w := NewGoalWatcher(&models.GoalSpec{Kind: models.GoalDistance, Value: 1000})
	pct := w.ProgressPct(2000, 0)
	if assert.NotNil(t, pct) {
		assert.Equal(t, float32(100), *pct)
	}
}

func TestGoalWatcher_SeedMarksAlreadyReached(t *testing.T) {
	w := NewGoalWatcher(&models.GoalSpec{Kind: models.GoalDistance, Value: 1000})
	w.Seed(true)
	assert.True(t, w.Reached())
	assert.False(t, w.Check(5000, 0))
}
