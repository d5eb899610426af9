package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/models"
)

// AutoSavePeriodMs is the cadence of periodic Active-state auto-saves
//.
const AutoSavePeriodMs int64 = 60000

// AutoSaver drives HistoryStore writes for a session's lifetime: periodic
// writes while Active, an immediate flush on foreground→background, and a
// final non-auto-saved write on Ended that replaces the auto-saved record
// by identical id.
type AutoSaver struct {
	history *HistoryStore
	logger  *zap.Logger

	lastSaveElapsedMs int64
	everSaved         bool
}

// NewAutoSaver constructs a saver writing through history.
func NewAutoSaver(history *HistoryStore, logger *zap.Logger) *AutoSaver {
	return &AutoSaver{history: history, logger: logger}
}

// MaybePeriodic writes rec (marked auto_saved=true) if elapsedMs has
// crossed another AutoSavePeriodMs boundary since the last save. wrote
// reports whether a write actually occurred this call, so callers can
// decide whether to surface a HistoryChanged event.
func (a *AutoSaver) MaybePeriodic(ctx context.Context, rec models.SessionRecord, elapsedMs int64) (wrote bool, err error) {
	if elapsedMs-a.lastSaveElapsedMs < AutoSavePeriodMs {
		return false, nil
	}
	a.lastSaveElapsedMs = elapsedMs
	a.everSaved = true
	rec.AutoSaved = true
	if err := a.history.Upsert(ctx, rec); err != nil {
		a.logger.Warn("periodic auto-save failed", zap.Error(err))
		return false, err
	}
	return true, nil
}

// FlushOnBackground writes rec immediately (auto_saved=true), bypassing
// the periodic cadence, on a foreground→background lifecycle transition.
func (a *AutoSaver) FlushOnBackground(ctx context.Context, rec models.SessionRecord) error {
	a.everSaved = true
	rec.AutoSaved = true
	return a.history.Upsert(ctx, rec)
}

// FlushOnEnd writes the final, non-auto-saved record, replacing any
// auto-saved record sharing the same id (HistoryStore's merge semantics
// make this the final-write-wins auto_saved=false).
func (a *AutoSaver) FlushOnEnd(ctx context.Context, rec models.SessionRecord) error {
	rec.AutoSaved = false
	return a.history.Upsert(ctx, rec)
}

// Reset clears periodic-save bookkeeping, used when a new session starts.
func (a *AutoSaver) Reset() {
	a.lastSaveElapsedMs = 0
	a.everSaved = false
}
