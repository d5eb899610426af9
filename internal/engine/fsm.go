package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/models"
	"github.com/dogwalking/workout-engine/internal/store"
)

// Phase is one of SessionFsm's four states.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhasePaused
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhasePaused:
		return "paused"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// SafeZoneConfig configures the optional advisory boundary for a Walk
// session (SPEC_FULL §4.12).
type SafeZoneConfig struct {
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
	RadiusM   float64 `json:"radius_m"`
}

// StartCommand carries the parameters of a Start command.
type StartCommand struct {
	Mode         models.Mode
	Goal         models.GoalSpec
	LapDistanceM float64
	GhostTarget  *models.GhostTarget
	HeightM      float64
	SafeZone     *SafeZoneConfig
}

// Snapshot is a read-only copy of the session's externally visible state
// reads, which must return a copy").
type Snapshot struct {
	Phase     Phase
	Mode      models.Mode
	DistanceM float64
	ElapsedMs int64
	Steps     uint32
	Laps      []models.Lap
}

// DebugSnapshot additionally exposes the filter's rejection counters and
// safe-zone violation count, for testability only.
type DebugSnapshot struct {
	Snapshot
	RejectCounters    map[RejectReason]int
	SafeZoneViolations int
}

// SessionFsm is the single owner of a workout session's state, the
// orchestrator that drains one input at a time and produces, in order,
// metric update → lap → ghost-delta → goal-reached → auto-save hint
//.
type SessionFsm struct {
	logger  *zap.Logger
	emitter Emitter

	history      *store.HistoryStore
	carryover    *store.CarryoverStore
	autosaver    *store.AutoSaver
	stepTimeline *store.StepTimelineStore

	phase       Phase
	mode        models.Mode
	startedAtMs int64
	dateKey     string
	lapDistanceM float64
	goalSpec    models.GoalSpec

	geo      *GeoFilter
	steps    *StepIntegrator
	clock    *Clock
	laps     *LapTracker
	ghost    *GhostRunner
	goal     *GoalWatcher
	safeZone *SafeZoneMonitor

	route             []models.LocationFix
	pendingStepDelta  uint32
}

// NewSessionFsm constructs an idle FSM backed by blob for persistence.
// Emitted events are sent to emitter (typically an *EventBus).
func NewSessionFsm(logger *zap.Logger, emitter Emitter, blob store.BlobStore) *SessionFsm {
	history := store.NewHistoryStore(blob, logger)
	carryover := store.NewCarryoverStore(blob, history, logger)
	autosaver := store.NewAutoSaver(history, logger)
	stepTimeline := store.NewStepTimelineStore(blob, logger)
	return &SessionFsm{
		logger:       logger,
		emitter:      emitter,
		history:      history,
		carryover:    carryover,
		autosaver:    autosaver,
		stepTimeline: stepTimeline,
		phase:        PhaseIdle,
		goal:         NewGoalWatcher(nil),
		ghost:        NewGhostRunner(nil),
	}
}

// WarmUp loads the history blob once, ahead of the first command. Safe to
// call multiple times.
func (f *SessionFsm) WarmUp(ctx context.Context) error {
	return f.history.Load(ctx)
}

func (f *SessionFsm) emit(e Event) {
	if f.emitter != nil {
		f.emitter.Emit(e)
	}
}

func dateKeyFromMs(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02")
}

// Phase returns the FSM's current phase.
func (f *SessionFsm) Phase() Phase {
	return f.phase
}

// Start handles the Idle → Active transition. A Start command
// received outside Idle is a state_violation and silently dropped.
func (f *SessionFsm) Start(ctx context.Context, cmd StartCommand, nowMs int64) {
	if f.phase != PhaseIdle {
		return
	}

	dateKey := dateKeyFromMs(nowMs)
	var distanceOffsetM float64
	var elapsedOffsetMs int64
	var stepOffset uint32
	var lapsSeed []models.Lap
	var lapStartDistance float64
	var lapStartElapsed int64
	resumePaused := false
	lapDistanceM := cmd.LapDistanceM
	if lapDistanceM <= 0 {
		lapDistanceM = 1000
	}

	if cmd.Mode == models.ModeWalk {
		snap, err := f.carryover.LoadForDate(ctx, dateKey, nowMs)
		if err != nil {
			f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindPersistenceFailed, Detail: err.Error()})
		}
		if snap != nil {
			distanceOffsetM = snap.DistanceM
			elapsedOffsetMs = snap.ElapsedMs
			stepOffset = snap.Steps
			lapsSeed = snap.Laps
			if snap.LapDistanceM > 0 {
				lapDistanceM = snap.LapDistanceM
			}
			if len(lapsSeed) > 0 {
				last := lapsSeed[len(lapsSeed)-1]
				lapStartDistance = last.CumulativeDistanceM
				lapStartElapsed = last.ElapsedMs
			}
			resumePaused = snap.IsPaused
		}
	}

	f.mode = cmd.Mode
	f.startedAtMs = nowMs
	f.dateKey = dateKey
	f.lapDistanceM = lapDistanceM
	f.goalSpec = cmd.Goal
	f.route = nil
	f.pendingStepDelta = 0

	f.geo = NewGeoFilter(cmd.Mode)
	f.geo.Reset(distanceOffsetM)
	f.steps = NewStepIntegrator(dateKey, cmd.HeightM)
	f.steps.SetOffsets(stepOffset, stepOffset)
	f.clock = NewClock(cmd.Mode, nowMs, elapsedOffsetMs)
	f.laps = NewLapTracker(lapDistanceM)
	f.laps.Seed(lapsSeed, lapStartDistance, lapStartElapsed)
	goalCopy := cmd.Goal
	f.goal = NewGoalWatcher(&goalCopy)
	f.ghost = NewGhostRunner(cmd.GhostTarget)
	f.autosaver.Reset()
	f.stepTimeline.Reset()

	if cmd.SafeZone != nil && cmd.Mode == models.ModeWalk {
		f.safeZone = NewSafeZoneMonitor(cmd.SafeZone.CenterLat, cmd.SafeZone.CenterLon, cmd.SafeZone.RadiusM, true)
	} else {
		f.safeZone = NewSafeZoneMonitor(0, 0, 0, false)
	}

	if resumePaused {
		f.phase = PhasePaused
		f.steps.SetPaused(true)
	} else {
		f.phase = PhaseActive
	}

	f.emit(Event{
		Type:      EventSessionStarted,
		DistanceM: f.geo.TotalDistanceM(),
		ElapsedMs: f.clock.ElapsedMs(nowMs),
	})
}

// Pause handles the Active → Paused transition. Dropped outside Active.
func (f *SessionFsm) Pause(ctx context.Context, nowMs int64) {
	if f.phase != PhaseActive {
		return
	}
	f.clock.Pause(nowMs)
	f.steps.SetPaused(true)
	f.phase = PhasePaused
	f.emit(Event{
		Type:      EventSessionPaused,
		DistanceM: f.geo.TotalDistanceM(),
		ElapsedMs: f.clock.ElapsedMs(nowMs),
	})
	if f.mode == models.ModeWalk {
		f.saveCarryover(ctx, nowMs, true)
	}
}

// Resume handles the Paused → Active transition. Dropped outside Paused.
func (f *SessionFsm) Resume(ctx context.Context, nowMs int64) {
	if f.phase != PhasePaused {
		return
	}
	f.clock.Resume(nowMs)
	f.steps.SetPaused(false)
	f.geo.ForceReanchor()
	f.phase = PhaseActive
	f.emit(Event{
		Type:      EventSessionResumed,
		DistanceM: f.geo.TotalDistanceM(),
		ElapsedMs: f.clock.ElapsedMs(nowMs),
	})
}

// Stop handles the stop command, which means different things per mode
//: Run mode writes the final history record, emits session_ended and
// returns the FSM to Idle (PhaseEnded is never entered); Walk mode instead
// suspends to Paused with a carry-over write, leaving the session
// restorable by a later Start on the same date.
func (f *SessionFsm) Stop(ctx context.Context, nowMs int64) {
	switch f.phase {
	case PhaseActive, PhasePaused:
	default:
		return
	}

	if f.mode == models.ModeRun {
		f.finalizeEnded(ctx, nowMs)
		return
	}

	if f.phase == PhaseActive {
		f.clock.Pause(nowMs)
		f.steps.SetPaused(true)
	}
	f.phase = PhasePaused
	f.saveCarryover(ctx, nowMs, true)
}

func (f *SessionFsm) finalizeEnded(ctx context.Context, nowMs int64) {
	rec := f.buildSessionRecord(nowMs, true)
	distanceM := rec.DistanceM
	elapsedMs := rec.DurationMs
	if f.ghost.Active() {
		rec.GhostResult = f.ghost.Finish(distanceM, elapsedMs)
	}

	if err := f.autosaver.FlushOnEnd(ctx, rec); err != nil {
		f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindPersistenceFailed, Detail: err.Error()})
	} else {
		f.emit(Event{Type: EventHistoryChanged})
	}

	f.emit(Event{Type: EventSessionEnded, Summary: &rec, DistanceM: distanceM, ElapsedMs: elapsedMs})
	f.phase = PhaseIdle
}

// OnLocation feeds a GPS fix through GeoFilter and, on acceptance, through
// the rest of the update pipeline.
func (f *SessionFsm) OnLocation(ctx context.Context, fix models.LocationFix, nowMs int64) {
	if f.phase != PhaseActive {
		return
	}
	outcome := f.geo.OnLocation(fix, nowMs)
	if !outcome.Accepted {
		return
	}

	f.route = append(f.route, fix)
	if f.mode == models.ModeWalk {
		f.clock.NoteMotion(nowMs)
		f.steps.AdaptStride(outcome.DeltaM, f.pendingStepDelta)
		f.pendingStepDelta = 0

		if f.safeZone.OnAcceptedFix(fix) {
			f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindSafeZoneExit, Detail: "outside configured safe zone"})
		}
	}

	f.processUpdate(ctx, nowMs)
}

// OnStepReading feeds a pedometer reading through StepIntegrator.
func (f *SessionFsm) OnStepReading(ctx context.Context, reading models.StepReading, nowMs int64) {
	if f.phase == PhaseIdle || f.phase == PhaseEnded {
		return
	}
	result := f.steps.OnStepReading(reading, dateKeyFromMs(reading.TsMs))
	if f.phase != PhaseActive {
		return
	}

	f.pendingStepDelta += result.DeltaSteps
	if f.mode == models.ModeWalk && result.DeltaSteps > 0 {
		f.clock.AddActiveMs(f.steps.ActiveTimeDeltaMs(result.DeltaSteps))
		f.clock.NoteMotion(nowMs)
	}

	if f.mode == models.ModeWalk {
		f.stepTimeline.RecordSteps(result.SessionSteps, nowMs)
		if err := f.stepTimeline.FlushCoalesced(ctx, nowMs); err != nil {
			f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindPersistenceFailed, Detail: err.Error()})
		}
	}

	f.processUpdate(ctx, nowMs)
}

// OnAccelSample records a walk-mode liveness hint only.
func (f *SessionFsm) OnAccelSample(sample models.AccelSample, nowMs int64) {
	if f.phase != PhaseActive || f.mode != models.ModeWalk {
		return
	}
	f.clock.NoteMotion(nowMs)
}

// Tick drives the Run wall-clock regime's downstream updates and the
// Walk-mode moving/not-moving accumulator flush, plus AutoSaver's cadence
//.
func (f *SessionFsm) Tick(ctx context.Context, nowMs int64) {
	if f.phase != PhaseActive {
		return
	}
	f.clock.Tick(nowMs)
	f.processUpdate(ctx, nowMs)
}

// OnBackground handles a foreground→background lifecycle transition by
// flushing the current session into history immediately,
// independent of the periodic auto-save cadence.
func (f *SessionFsm) OnBackground(ctx context.Context, nowMs int64) {
	if f.phase != PhaseActive && f.phase != PhasePaused {
		return
	}
	rec := f.buildSessionRecord(nowMs, false)
	if err := f.autosaver.FlushOnBackground(ctx, rec); err != nil {
		f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindPersistenceFailed, Detail: err.Error()})
		return
	}
	f.emit(Event{Type: EventHistoryChanged})
}

// SetStride applies a SetStride command.
func (f *SessionFsm) SetStride(strideM float64) {
	if f.steps == nil {
		return
	}
	f.steps.SetStride(strideM)
}

// LoadHistory returns the persisted records for mode, newest-first.
func (f *SessionFsm) LoadHistory(mode models.Mode) []models.SessionRecord {
	return f.history.List(mode)
}

// DeleteHistoryEntry removes a history record by id and emits
// HistoryChanged on success.
func (f *SessionFsm) DeleteHistoryEntry(ctx context.Context, id string) {
	if err := f.history.Delete(ctx, id); err != nil {
		f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindPersistenceFailed, Detail: err.Error()})
		return
	}
	f.emit(Event{Type: EventHistoryChanged})
}

// StepTimeline returns the in-memory minute-aggregated step history
// accumulated so far this session (SPEC_FULL supplement: step_timeline).
func (f *SessionFsm) StepTimeline() []store.StepTimelineSample {
	return f.stepTimeline.Samples()
}

// Snapshot returns a copy of the externally visible session state.
func (f *SessionFsm) Snapshot(nowMs int64) Snapshot {
	if f.geo == nil {
		return Snapshot{Phase: f.phase, Mode: f.mode}
	}
	return Snapshot{
		Phase:     f.phase,
		Mode:      f.mode,
		DistanceM: f.geo.TotalDistanceM(),
		ElapsedMs: f.clock.ElapsedMs(nowMs),
		Steps:     f.steps.LastSessionSteps(),
		Laps:      f.laps.Laps(),
	}
}

// DebugSnapshot returns Snapshot plus the diagnostic counters reserved for
// debug use only.
func (f *SessionFsm) DebugSnapshot(nowMs int64) DebugSnapshot {
	snap := f.Snapshot(nowMs)
	d := DebugSnapshot{Snapshot: snap}
	if f.geo != nil {
		d.RejectCounters = f.geo.RejectCounters()
	}
	if f.safeZone != nil {
		d.SafeZoneViolations = f.safeZone.ViolationCount()
	}
	return d
}

// processUpdate runs the ordered emission pipeline: metric update → lap →
// ghost-delta → goal-reached → auto-save hint.
func (f *SessionFsm) processUpdate(ctx context.Context, nowMs int64) {
	distanceM := f.geo.TotalDistanceM()
	elapsedMs := f.clock.ElapsedMs(nowMs)

	var avgPace *int64
	if distanceM > 0 && elapsedMs > 0 {
		p := int64(float64(elapsedMs) * 1000.0 / distanceM)
		avgPace = &p
	}
	var stepsPtr *uint32
	if f.mode == models.ModeWalk {
		s := f.steps.LastSessionSteps()
		stepsPtr = &s
	}
	f.emit(Event{
		Type:               EventMetricTick,
		DistanceM:          distanceM,
		ElapsedMs:          elapsedMs,
		AvgPaceMsPerKm:     avgPace,
		Steps:              stepsPtr,
	})

	for _, lap := range f.laps.OnUpdate(distanceM, elapsedMs) {
		lap := lap
		f.emit(Event{Type: EventLapCompleted, Lap: &lap, AvgPaceMsPerKm: avgPace})
	}

	if f.ghost.Active() {
		for _, d := range f.ghost.OnUpdate(distanceM, elapsedMs) {
			f.emit(Event{Type: EventGhostDelta, Km: d.Km, DiffSeconds: d.DiffSeconds})
		}
	}

	if f.goal.Check(distanceM, elapsedMs) {
		f.ghost.NoteGoalCompleted()
		goalCopy := f.goalSpec
		f.emit(Event{
			Type:           EventGoalReached,
			Goal:           &goalCopy,
			DistanceM:      distanceM,
			ElapsedMs:      elapsedMs,
			AvgPaceMsPerKm: avgPace,
		})
	}

	rec := f.buildSessionRecord(nowMs, false)
	wrote, err := f.autosaver.MaybePeriodic(ctx, rec, elapsedMs)
	if err != nil {
		f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindPersistenceFailed, Detail: err.Error()})
	} else if wrote {
		f.emit(Event{Type: EventHistoryChanged})
	}
	if f.mode == models.ModeWalk {
		f.saveCarryoverCoalesced(ctx, nowMs, false)
	}
}

func (f *SessionFsm) saveCarryover(ctx context.Context, nowMs int64, isPaused bool) {
	snap := f.buildCarryoverSnapshot(nowMs, isPaused)
	if err := f.carryover.Save(ctx, snap, nowMs); err != nil {
		f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindPersistenceFailed, Detail: err.Error()})
	}
}

func (f *SessionFsm) saveCarryoverCoalesced(ctx context.Context, nowMs int64, isPaused bool) {
	snap := f.buildCarryoverSnapshot(nowMs, isPaused)
	if err := f.carryover.SaveCoalesced(ctx, snap, nowMs); err != nil {
		f.emit(Event{Type: EventErrorObserved, ErrorKind: ErrKindPersistenceFailed, Detail: err.Error()})
	}
}

func (f *SessionFsm) buildCarryoverSnapshot(nowMs int64, isPaused bool) models.CarryoverSnapshot {
	return models.CarryoverSnapshot{
		DateKey:      f.dateKey,
		Mode:         f.mode,
		DistanceM:    f.geo.TotalDistanceM(),
		ElapsedMs:    f.clock.ElapsedMs(nowMs),
		Steps:        f.steps.LastSessionSteps(),
		Laps:         f.laps.Laps(),
		LapDistanceM: f.lapDistanceM,
		IsPaused:     isPaused,
	}
}

func (f *SessionFsm) buildSessionRecord(nowMs int64, final bool) models.SessionRecord {
	distanceM := f.geo.TotalDistanceM()
	elapsedMs := f.clock.ElapsedMs(nowMs)
	laps := f.laps.Laps()

	var avgPace int64
	if distanceM > 0 && elapsedMs > 0 {
		avgPace = int64(float64(elapsedMs) * 1000.0 / distanceM)
	}

	goalCopy := f.goalSpec
	rec := models.SessionRecord{
		ID:          fmt.Sprintf("%d", f.startedAtMs),
		Mode:        f.mode,
		StartedAtMs: f.startedAtMs,
		DurationMs:  elapsedMs,
		DistanceM:   distanceM,
		AvgPaceMsPerKm: avgPace,
		Laps:        laps,
		Route:       append([]models.LocationFix(nil), f.route...),
		Goal:        &goalCopy,
	}

	if f.mode == models.ModeWalk {
		s := f.steps.LastSessionSteps()
		rec.Steps = &s
		stride := float32(f.steps.StrideM())
		rec.StrideM = &stride
	}
	if pct := f.goal.ProgressPct(distanceM, elapsedMs); pct != nil {
		rec.GoalProgressPct = pct
	}
	if final && len(laps) >= 2 {
		rec.PaceTrendMsPerKm = PaceTrendMsPerKm(laps)
	}
	return rec
}
