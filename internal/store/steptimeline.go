package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaxStepTimelineSamples caps the persisted per-minute step history at one
// full day (24h * 60min), matching the other blobs' bounded-size contract.
const MaxStepTimelineSamples = 1440

// stepTimelineCoalesceWindow batches rapid step-reading bursts into a
// single write, mirroring CarryoverStore's coalescing (store/carryover.go).
const stepTimelineCoalesceWindow = 500 * time.Millisecond

// StepTimelineSample is one minute-bucketed aggregate of session steps,
// used by a presentation layer to render an intra-session step chart —
// the engine's own metrics never read this back.
type StepTimelineSample struct {
	MinuteTsMs int64  `json:"minute_ts_ms"`
	Steps      uint32 `json:"steps"`
}

// StepTimelineStore persists a rolling, minute-aggregated step history
// under store.KeyStepTimeline, capped at MaxStepTimelineSamples with
// oldest-first eviction.
type StepTimelineStore struct {
	blob   BlobStore
	logger *zap.Logger

	mu      sync.Mutex
	samples []StepTimelineSample

	pendingSave bool
	lastFlushAt time.Time
}

// NewStepTimelineStore constructs a store writing through blob.
func NewStepTimelineStore(blob BlobStore, logger *zap.Logger) *StepTimelineStore {
	return &StepTimelineStore{blob: blob, logger: logger}
}

// Load reads the persisted timeline, if any, replacing in-memory state.
func (s *StepTimelineStore) Load(ctx context.Context) error {
	raw, found, err := s.blob.Load(ctx, KeyStepTimeline)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !found {
		s.samples = nil
		return nil
	}
	var samples []StepTimelineSample
	if err := json.Unmarshal(raw, &samples); err != nil {
		return err
	}
	s.samples = samples
	return nil
}

// Reset clears in-memory state, used when a new session starts.
func (s *StepTimelineStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
	s.pendingSave = false
}

// RecordSteps buckets sessionSteps (the session's cumulative step count at
// nowMs) into its containing minute, replacing any earlier sample for that
// same minute with the higher count (steps are monotonic within a minute).
func (s *StepTimelineStore) RecordSteps(sessionSteps uint32, nowMs int64) {
	minuteTsMs := (nowMs / 60000) * 60000

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.samples); n > 0 && s.samples[n-1].MinuteTsMs == minuteTsMs {
		if sessionSteps > s.samples[n-1].Steps {
			s.samples[n-1].Steps = sessionSteps
		}
		return
	}

	s.samples = append(s.samples, StepTimelineSample{MinuteTsMs: minuteTsMs, Steps: sessionSteps})
	if len(s.samples) > MaxStepTimelineSamples {
		s.samples = s.samples[len(s.samples)-MaxStepTimelineSamples:]
	}
}

// FlushCoalesced persists the timeline if stepTimelineCoalesceWindow has
// elapsed since the last write, the same pattern CarryoverStore uses to
// avoid a blob write per sensor sample.
func (s *StepTimelineStore) FlushCoalesced(ctx context.Context, nowMs int64) error {
	now := time.UnixMilli(nowMs)
	s.mu.Lock()
	if !s.lastFlushAt.IsZero() && now.Sub(s.lastFlushAt) < stepTimelineCoalesceWindow {
		s.mu.Unlock()
		return nil
	}
	s.lastFlushAt = now
	samples := append([]StepTimelineSample(nil), s.samples...)
	s.mu.Unlock()

	raw, err := json.Marshal(samples)
	if err != nil {
		return err
	}
	if err := s.blob.Save(ctx, KeyStepTimeline, raw); err != nil {
		s.logger.Warn("step timeline save failed", zap.Error(err))
		return err
	}
	return nil
}

// Samples returns a copy of the in-memory timeline.
func (s *StepTimelineStore) Samples() []StepTimelineSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StepTimelineSample(nil), s.samples...)
}
