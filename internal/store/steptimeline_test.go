package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStepTimelineStore_RecordStepsBucketsByMinute(t *testing.T) {
	s := NewStepTimelineStore(newMemBlobStore(), zap.NewNop())
	s.RecordSteps(10, 5000)   // minute 0
	s.RecordSteps(25, 65000)  // minute 1

	samples := s.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, int64(0), samples[0].MinuteTsMs)
	assert.Equal(t, uint32(10), samples[0].Steps)
	assert.Equal(t, int64(60000), samples[1].MinuteTsMs)
	assert.Equal(t, uint32(25), samples[1].Steps)
}

func TestStepTimelineStore_SameMinuteKeepsTheHigherCount(t *testing.T) {
	s := NewStepTimelineStore(newMemBlobStore(), zap.NewNop())
	s.RecordSteps(10, 1000)
	s.RecordSteps(8, 2000) // same minute, a lower observed count must not regress it
	s.RecordSteps(15, 3000)

	samples := s.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, uint32(15), samples[0].Steps)
}

func TestStepTimelineStore_EvictsOldestPastCap(t *testing.T) {
	s := NewStepTimelineStore(newMemBlobStore(), zap.NewNop())
	for i := 0; i < MaxStepTimelineSamples+10; i++ {
		s.RecordSteps(uint32(i), int64(i)*60000)
	}
	samples := s.Samples()
	require.Len(t, samples, MaxStepTimelineSamples)
	assert.Equal(t, uint32(10), samples[0].Steps, "the oldest 10 minute-buckets must have been evicted")
}

func TestStepTimelineStore_FlushCoalescedSkipsWithinWindow(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlobStore()
	s := NewStepTimelineStore(blob, zap.NewNop())
	s.RecordSteps(10, 1000)

	require.NoError(t, s.FlushCoalesced(ctx, 1000))
	_, found, err := blob.Load(ctx, KeyStepTimeline)
	require.NoError(t, err)
	assert.True(t, found)

	s.RecordSteps(20, 1100)
	require.NoError(t, s.FlushCoalesced(ctx, 1100)) // within 500ms of the previous flush

	fresh := NewStepTimelineStore(blob, zap.NewNop())
	require.NoError(t, fresh.Load(ctx))
	samples := fresh.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, uint32(10), samples[0].Steps, "a flush within the coalesce window must not have persisted the second update")
}

func TestStepTimelineStore_ResetClearsInMemoryState(t *testing.T) {
	s := NewStepTimelineStore(newMemBlobStore(), zap.NewNop())
	s.RecordSteps(10, 1000)
	s.Reset()
	assert.Empty(t, s.Samples())
}

func TestStepTimelineStore_LoadRestoresPersistedSamples(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlobStore()
	first := NewStepTimelineStore(blob, zap.NewNop())
	first.RecordSteps(42, 1000)
	require.NoError(t, first.FlushCoalesced(ctx, 1000))

	second := NewStepTimelineStore(blob, zap.NewNop())
	require.NoError(t, second.Load(ctx))
	samples := second.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, uint32(42), samples[0].Steps)
}
