package engine

import (
	"github.com/sajari/regression"

	"github.com/dogwalking/workout-engine/internal/models"
)

// PaceTrendMsPerKm computes the slope of pace-per-lap against lap index via
// simple linear regression, as a supplemental end-of-session analytic
// (SPEC_FULL §4.11). Returns nil when fewer than 2 laps are present, since
// a trend line over a single point is meaningless.
func PaceTrendMsPerKm(laps []models.Lap) *float64 {
	if len(laps) < 2 {
		return nil
	}

	var r regression.Regression
	r.SetObserved("pace_ms_per_km")
	r.SetVar(0, "lap_index")
	for _, lap := range laps {
		r.Train(regression.DataPoint(float64(lap.PaceMsPerKm), []float64{float64(lap.Index)}))
	}
	if err := r.Run(); err != nil {
		return nil
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) < 2 {
		return nil
	}
	slope := coeffs[1]
	return &slope
}
