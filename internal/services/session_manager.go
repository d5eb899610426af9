// Package services wires engine.SessionFsm instances into a registry keyed
// by session id: a sync.Map-keyed session registry with logger/metrics
// injection and a background health-tick loop.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/engine"
	"github.com/dogwalking/workout-engine/internal/metrics"
	"github.com/dogwalking/workout-engine/internal/models"
	"github.com/dogwalking/workout-engine/internal/store"
)

// sessionEntry bundles one active SessionFsm with its own event bus, so a
// WebSocket/MQTT subscriber can attach to exactly one session's events.
type sessionEntry struct {
	id     string
	fsm    *engine.SessionFsm
	bus    *engine.EventBus
	mu     sync.Mutex
}

// RouteSaver is the supplemental spatial write-through a Manager uses to
// persist each ended session's route for geo-queries, and to prune old
// routes on a schedule. Satisfied by *repository.TimescaleRepository.
type RouteSaver interface {
	SaveRoute(ctx context.Context, sessionID string, mode models.Mode, route []models.LocationFix) error
	PruneRoutes(ctx context.Context) error
}

// Manager owns every live session's SessionFsm, dispatching commands and
// sensor readings to the right one and fanning metrics out from observed
// events: one registry, one logger, one metrics collector, injected at
// construction.
type Manager struct {
	blob    store.BlobStore
	routes  RouteSaver
	logger  *zap.Logger
	metrics *metrics.Collector

	sessions sync.Map // string -> *sessionEntry

	maxConcurrent int
}

// NewManager constructs a session registry backed by blob for persistence.
// routes may be nil, in which case ended sessions' routes are simply not
// written to the spatial store.
func NewManager(blob store.BlobStore, routes RouteSaver, logger *zap.Logger, collector *metrics.Collector, maxConcurrent int) *Manager {
	return &Manager{blob: blob, routes: routes, logger: logger, metrics: collector, maxConcurrent: maxConcurrent}
}

// CreateSession allocates a new SessionFsm, warms its history from storage,
// and issues the Start command. Returns the new session's registry entry.
func (m *Manager) CreateSession(ctx context.Context, id string, cmd engine.StartCommand, nowMs int64) (*sessionEntry, error) {
	if m.countActive() >= m.maxConcurrent {
		return nil, fmt.Errorf("max concurrent sessions (%d) reached", m.maxConcurrent)
	}

	bus := engine.NewEventBus()
	fsm := engine.NewSessionFsm(m.logger, bus, m.blob)
	if err := fsm.WarmUp(ctx); err != nil {
		m.logger.Warn("history warm-up failed", zap.String("session_id", id), zap.Error(err))
	}

	entry := &sessionEntry{id: id, fsm: fsm, bus: bus}
	m.sessions.Store(id, entry)

	m.attachMetricsObserver(entry)

	entry.mu.Lock()
	fsm.Start(ctx, cmd, nowMs)
	entry.mu.Unlock()

	m.metrics.ActiveSessions.Inc()
	return entry, nil
}

// attachMetricsObserver subscribes an internal, non-consumer-facing
// listener that forwards lap/goal/history events into Prometheus counters
// and writes an ended session's route to the spatial store.
func (m *Manager) attachMetricsObserver(entry *sessionEntry) {
	_, ch, unsubscribe := entry.bus.Subscribe()
	go func() {
		for evt := range ch {
			m.metrics.ObserveEvent(string(evt.Type), string(evt.ErrorKind))
			if evt.Type == engine.EventSessionEnded {
				if m.routes != nil && evt.Summary != nil && len(evt.Summary.Route) >= 2 {
					if err := m.routes.SaveRoute(context.Background(), entry.id, evt.Summary.Mode, evt.Summary.Route); err != nil {
						m.logger.Warn("route save failed", zap.String("session_id", entry.id), zap.Error(err))
					}
				}
				unsubscribe()
				return
			}
		}
	}()
}

// Get returns the entry for id, or false if no such session is live.
func (m *Manager) Get(id string) (*sessionEntry, bool) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*sessionEntry), true
}

// Pause dispatches a pause command to the named session.
func (m *Manager) Pause(ctx context.Context, id string, nowMs int64) error {
	entry, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.fsm.Pause(ctx, nowMs)
	return nil
}

// Resume dispatches a resume command to the named session.
func (m *Manager) Resume(ctx context.Context, id string, nowMs int64) error {
	entry, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.fsm.Resume(ctx, nowMs)
	return nil
}

// Stop dispatches a stop command. In Run mode this ends and retires the
// session from the registry; in Walk mode the FSM itself suspends to
// Paused, so the entry is kept live for a same-day resume.
func (m *Manager) Stop(ctx context.Context, id string, nowMs int64) error {
	entry, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	entry.mu.Lock()
	entry.fsm.Stop(ctx, nowMs)
	ended := entry.fsm.Phase() == engine.PhaseIdle
	entry.mu.Unlock()

	if ended {
		m.sessions.Delete(id)
		m.metrics.ActiveSessions.Dec()
	}
	return nil
}

// SetStride forwards an operator-supplied stride length to the session.
func (m *Manager) SetStride(id string, strideM float64) error {
	entry, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.fsm.SetStride(strideM)
	return nil
}

// OnLocation feeds a GPS fix into the named session.
func (m *Manager) OnLocation(ctx context.Context, id string, fix models.LocationFix, nowMs int64) error {
	entry, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.fsm.OnLocation(ctx, fix, nowMs)
	return nil
}

// OnStepReading feeds a pedometer sample into the named session.
func (m *Manager) OnStepReading(ctx context.Context, id string, reading models.StepReading, nowMs int64) error {
	entry, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.fsm.OnStepReading(ctx, reading, nowMs)
	return nil
}

// OnAccelSample feeds an accelerometer sample into the named session.
func (m *Manager) OnAccelSample(id string, sample models.AccelSample, nowMs int64) error {
	entry, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.fsm.OnAccelSample(sample, nowMs)
	return nil
}

// Subscribe exposes the named session's event stream for a
// handlers/websocket.go connection.
func (m *Manager) Subscribe(id string) (ch <-chan engine.Event, unsubscribe func(), ok bool) {
	entry, found := m.Get(id)
	if !found {
		return nil, nil, false
	}
	_, ch, unsubscribe = entry.bus.Subscribe()
	return ch, unsubscribe, true
}

// Snapshot returns the named session's current read-only state.
func (m *Manager) Snapshot(id string, nowMs int64) (engine.Snapshot, error) {
	entry, ok := m.Get(id)
	if !ok {
		return engine.Snapshot{}, fmt.Errorf("session %s not found", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.fsm.Snapshot(nowMs), nil
}

// History returns the persisted history list for mode, read through a fresh
// throwaway FSM warmed from blob (live sessions are not consulted).
func (m *Manager) History(ctx context.Context, mode models.Mode) []models.SessionRecord {
	fsm := engine.NewSessionFsm(m.logger, engine.NewEventBus(), m.blob)
	if err := fsm.WarmUp(ctx); err != nil {
		m.logger.Warn("history load failed", zap.Error(err))
		return nil
	}
	return fsm.LoadHistory(mode)
}

// ResolveGhostTarget looks up a past session by id across both modes and
// resolves it to a usable ghost target through the same eligibility rule
// (at least one control point) that automatic selection would apply.
func (m *Manager) ResolveGhostTarget(ctx context.Context, targetID string) (*models.GhostTarget, error) {
	fsm := engine.NewSessionFsm(m.logger, engine.NewEventBus(), m.blob)
	if err := fsm.WarmUp(ctx); err != nil {
		return nil, err
	}
	for _, mode := range []models.Mode{models.ModeRun, models.ModeWalk} {
		for _, rec := range fsm.LoadHistory(mode) {
			if rec.ID != targetID {
				continue
			}
			candidate := engine.BuildGhostTarget(rec)
			if target := engine.SelectGhostTarget([]models.GhostTarget{candidate}, 0); target != nil {
				return target, nil
			}
			return nil, fmt.Errorf("session %s has no usable ghost control points", targetID)
		}
	}
	return nil, fmt.Errorf("ghost target %s not found", targetID)
}

// DeleteHistoryEntry removes a persisted history record by id.
func (m *Manager) DeleteHistoryEntry(ctx context.Context, id string) {
	fsm := engine.NewSessionFsm(m.logger, engine.NewEventBus(), m.blob)
	if err := fsm.WarmUp(ctx); err != nil {
		m.logger.Warn("history load failed", zap.Error(err))
		return
	}
	fsm.DeleteHistoryEntry(ctx, id)
}

func (m *Manager) countActive() int {
	n := 0
	m.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// RunRoutePruneTicker calls PruneRoutes on the configured interval for the
// lifetime of ctx. With a nil RouteSaver it returns immediately.
func (m *Manager) RunRoutePruneTicker(ctx context.Context, interval time.Duration) {
	if m.routes == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.routes.PruneRoutes(ctx); err != nil {
				m.logger.Warn("route prune failed", zap.Error(err))
			}
		}
	}
}

// RunBackgroundTicker calls Tick on every live session every interval, so
// Walk-mode clocks and carry-over coalescing advance even without new
// sensor input.
func (m *Manager) RunBackgroundTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			nowMs := t.UnixMilli()
			m.sessions.Range(func(_, v interface{}) bool {
				entry := v.(*sessionEntry)
				entry.mu.Lock()
				entry.fsm.Tick(ctx, nowMs)
				entry.mu.Unlock()
				return true
			})
		}
	}
}
