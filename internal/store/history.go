package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/models"
)

// MaxHistoryItems caps the retained records per mode").
const MaxHistoryItems = 20

const seedIDPrefix = "seed_"

// HistoryStore implements upsert/merge/cap/evict semantics on top of an
// opaque BlobStore, keyed by models.Mode.
type HistoryStore struct {
	blob   BlobStore
	logger *zap.Logger

	byMode map[models.Mode][]models.SessionRecord
	loaded bool
}

// NewHistoryStore constructs a store backed by blob. Records are lazily
// loaded on first use so construction never performs I/O.
func NewHistoryStore(blob BlobStore, logger *zap.Logger) *HistoryStore {
	return &HistoryStore{blob: blob, logger: logger, byMode: make(map[models.Mode][]models.SessionRecord)}
}

// Load reads the persisted history blob once, skipping legacy "seed_*"
// entries.
func (h *HistoryStore) Load(ctx context.Context) error {
	if h.loaded {
		return nil
	}
	raw, found, err := h.blob.Load(ctx, KeyHistory)
	if err != nil {
		return err
	}
	h.loaded = true
	if !found {
		return nil
	}
	var all []models.SessionRecord
	if err := json.Unmarshal(raw, &all); err != nil {
		h.logger.Warn("history blob unreadable, starting empty", zap.Error(err))
		return nil
	}
	for _, rec := range all {
		if strings.HasPrefix(rec.ID, seedIDPrefix) {
			continue
		}
		h.byMode[rec.Mode] = append(h.byMode[rec.Mode], rec)
	}
	return nil
}

// List returns the records for a mode, newest-first.
func (h *HistoryStore) List(mode models.Mode) []models.SessionRecord {
	out := make([]models.SessionRecord, len(h.byMode[mode]))
	copy(out, h.byMode[mode])
	return out
}

// Upsert finds rec.ID within rec.Mode's list; if present, merges
// element-wise (max distance/duration/steps, auto_saved false wins); else
// inserts at position 0, capping the list at MaxHistoryItems by evicting
// the tail.
func (h *HistoryStore) Upsert(ctx context.Context, rec models.SessionRecord) error {
	if err := h.Load(ctx); err != nil {
		return err
	}
	list := h.byMode[rec.Mode]
	for i, existing := range list {
		if existing.ID == rec.ID {
			list[i] = mergeRecords(existing, rec)
			h.byMode[rec.Mode] = list
			return h.persist(ctx)
		}
	}

	list = append([]models.SessionRecord{rec}, list...)
	if len(list) > MaxHistoryItems {
		list = list[:MaxHistoryItems]
	}
	h.byMode[rec.Mode] = list
	return h.persist(ctx)
}

// Delete removes a record by id across both modes, a no-op if absent.
func (h *HistoryStore) Delete(ctx context.Context, id string) error {
	if err := h.Load(ctx); err != nil {
		return err
	}
	changed := false
	for mode, list := range h.byMode {
		for i, rec := range list {
			if rec.ID == id {
				h.byMode[mode] = append(list[:i], list[i+1:]...)
				changed = true
				break
			}
		}
	}
	if !changed {
		return nil
	}
	return h.persist(ctx)
}

func mergeRecords(existing, incoming models.SessionRecord) models.SessionRecord {
	merged := existing
	merged.DistanceM = maxFloat(existing.DistanceM, incoming.DistanceM)
	merged.DurationMs = maxInt64(existing.DurationMs, incoming.DurationMs)
	merged.Steps = maxOptUint32(existing.Steps, incoming.Steps)
	// "OR of auto_saved flags' negations (final non-auto-saved write wins
	// auto_saved=false)": if either write is non-auto-saved, the merged
	// record is non-auto-saved.
	merged.AutoSaved = existing.AutoSaved && incoming.AutoSaved
	if merged.DistanceM > 0 && merged.DurationMs > 0 {
		merged.AvgPaceMsPerKm = int64(float64(merged.DurationMs) * 1000.0 / merged.DistanceM)
	}
	if len(incoming.Laps) > len(merged.Laps) {
		merged.Laps = incoming.Laps
	}
	if len(incoming.Route) > len(merged.Route) {
		merged.Route = incoming.Route
	}
	if incoming.GhostResult != nil {
		merged.GhostResult = incoming.GhostResult
	}
	if incoming.PaceTrendMsPerKm != nil {
		merged.PaceTrendMsPerKm = incoming.PaceTrendMsPerKm
	}
	return merged
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

func maxInt64(a, b int64) int64 {
	if b > a {
		return b
	}
	return a
}

func maxOptUint32(a, b *uint32) *uint32 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *b > *a {
		return b
	}
	return a
}

func (h *HistoryStore) persist(ctx context.Context) error {
	var all []models.SessionRecord
	for _, list := range h.byMode {
		all = append(all, list...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartedAtMs > all[j].StartedAtMs })

	raw, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return h.blob.Save(ctx, KeyHistory, raw)
}
