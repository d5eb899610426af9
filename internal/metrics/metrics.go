// Package metrics registers the Prometheus collectors the daemon exposes on
// GET /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the engine-observable gauges/counters: GeoFilter
// rejection reasons, active session count, and persistence failures.
type Collector struct {
	RejectionsTotal     *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	PersistenceFailures prometheus.Counter
	LapsCompletedTotal  prometheus.Counter
	GoalsReachedTotal   prometheus.Counter
	AutoSavesTotal      prometheus.Counter
}

// NewCollector constructs and registers every collector against reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workout_engine_geofilter_rejections_total",
			Help: "GPS fixes rejected by GeoFilter, by reason.",
		}, []string{"reason"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workout_engine_active_sessions",
			Help: "Number of sessions currently Active or Paused.",
		}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workout_engine_persistence_failures_total",
			Help: "BlobStore Save/Load calls that returned an error.",
		}),
		LapsCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workout_engine_laps_completed_total",
			Help: "LapCompleted events emitted across all sessions.",
		}),
		GoalsReachedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workout_engine_goals_reached_total",
			Help: "GoalReached events emitted across all sessions.",
		}),
		AutoSavesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workout_engine_autosaves_total",
			Help: "History writes performed by AutoSaver.",
		}),
	}
	reg.MustRegister(
		c.RejectionsTotal,
		c.ActiveSessions,
		c.PersistenceFailures,
		c.LapsCompletedTotal,
		c.GoalsReachedTotal,
		c.AutoSavesTotal,
	)
	return c
}

// ObserveEvent updates counters from a single emitted engine event. Callers
// pass the event's type and, for error_observed events, its error kind;
// this keeps the metrics package free of an internal/engine
// import so the dependency only runs one direction.
func (c *Collector) ObserveEvent(eventType string, errorKind string) {
	switch eventType {
	case "lap_completed":
		c.LapsCompletedTotal.Inc()
	case "goal_reached":
		c.GoalsReachedTotal.Inc()
	case "history_changed":
		c.AutoSavesTotal.Inc()
	case "error_observed":
		if errorKind == "persistence_failed" {
			c.PersistenceFailures.Inc()
		}
	}
}
