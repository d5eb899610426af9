package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/models"
)

// carryoverCoalesceWindow is the minimum gap between successive writes
//.
const carryoverCoalesceWindow = 500 * time.Millisecond

// CarryoverStore persists exactly one walk-mode session snapshot keyed by
// calendar date, migrating a stale day into history on load.
type CarryoverStore struct {
	blob    BlobStore
	history *HistoryStore
	logger  *zap.Logger

	lastWriteMs int64
	hasWritten  bool
}

// NewCarryoverStore constructs a store backed by blob, migrating stale
// snapshots into history.
func NewCarryoverStore(blob BlobStore, history *HistoryStore, logger *zap.Logger) *CarryoverStore {
	return &CarryoverStore{blob: blob, history: history, logger: logger}
}

// LoadForDate returns the carryover snapshot usable for resuming on
// todayKey, or nil if none exists for today. A snapshot stamped with a
// different date is cleared from the carryover blob; if it holds any
// non-zero value it is first migrated into history.
func (c *CarryoverStore) LoadForDate(ctx context.Context, todayKey string, nowMs int64) (*models.CarryoverSnapshot, error) {
	raw, found, err := c.blob.Load(ctx, KeyCarryover)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var snap models.CarryoverSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.Warn("carryover blob unreadable, discarding", zap.Error(err))
		return nil, nil
	}

	if snap.DateKey == todayKey {
		return &snap, nil
	}

	if isNonZeroSnapshot(snap) {
		rec := models.SessionRecord{
			ID:                    fmt.Sprintf("%s_carryover_%d", snap.DateKey, nowMs),
			Mode:                  snap.Mode,
			DurationMs:            snap.ElapsedMs,
			DistanceM:             snap.DistanceM,
			Laps:                  snap.Laps,
			Steps:                 &snap.Steps,
			AutoSaved:             true,
			MigratedFromCarryover: true,
		}
		if snap.DistanceM > 0 && snap.ElapsedMs > 0 {
			rec.AvgPaceMsPerKm = int64(float64(snap.ElapsedMs) * 1000.0 / snap.DistanceM)
		}
		if err := c.history.Upsert(ctx, rec); err != nil {
			return nil, err
		}
	}

	if err := c.blob.Delete(ctx, KeyCarryover); err != nil {
		return nil, err
	}
	return nil, nil
}

func isNonZeroSnapshot(snap models.CarryoverSnapshot) bool {
	return snap.DistanceM > 0 || snap.ElapsedMs > 0 || snap.Steps > 0 || len(snap.Laps) > 0
}

// Save writes snap unconditionally, bypassing the coalesce window — used
// for lifecycle flushes (pause/stop) that must not be dropped.
func (c *CarryoverStore) Save(ctx context.Context, snap models.CarryoverSnapshot, nowMs int64) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	c.lastWriteMs = nowMs
	c.hasWritten = true
	return c.blob.Save(ctx, KeyCarryover, raw)
}

// SaveCoalesced writes snap only if at least carryoverCoalesceWindow has
// elapsed (by nowMs, the engine's simulated clock) since the previous write.
// Intended for the every-tick-that-changes-state call site; lifecycle
// flushes should call Save directly.
func (c *CarryoverStore) SaveCoalesced(ctx context.Context, snap models.CarryoverSnapshot, nowMs int64) error {
	if c.hasWritten && time.UnixMilli(nowMs).Sub(time.UnixMilli(c.lastWriteMs)) < carryoverCoalesceWindow {
		return nil
	}
	return c.Save(ctx, snap, nowMs)
}
