package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendBatchAndQueryRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{Table: "observations", SeriesKey: "tank-1", Timestamp: base, Payload: "120.5"},
		{Table: "observations", SeriesKey: "tank-1", Timestamp: base.Add(time.Minute), Payload: "121.0"},
		{Table: "observations", SeriesKey: "tank-2", Timestamp: base, Payload: "80.0"},
	}

	require.NoError(t, s.AppendBatch(ctx, records))

	snap := s.Snapshot()
	defer snap.Release()

	rows, err := snap.QueryRange("observations", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	series1, err := snap.QuerySeries("observations", "tank-1", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, series1, 2)
}

func TestAppendBatchEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendBatch(context.Background(), nil))
}

func TestAppendBatchRejectsConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	s.writing.Store(true)
	defer s.writing.Store(false)

	err := s.AppendBatch(context.Background(), []Record{{Table: "observations", SeriesKey: "x"}})
	assert.ErrorIs(t, err, ErrWriterHeld)
}

func TestCheckCapacityReturnsStorageFull(t *testing.T) {
	s := newTestStore(t)
	s.maxBytes = 1 // anything written at all exceeds 1 byte

	err := s.AppendBatch(context.Background(), []Record{{Table: "observations", SeriesKey: "x", Timestamp: time.Now()}})
	assert.ErrorIs(t, err, ErrStorageFull)
}

func TestStatsReportsSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendBatch(ctx, []Record{{Table: "observations", SeriesKey: "x", Timestamp: time.Now(), Payload: "1"}}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.SizeBytes, int64(0))
}

func TestSnapshotIsStaleAfterWindow(t *testing.T) {
	s := newTestStore(t)
	snap := s.Snapshot()
	defer snap.Release()

	assert.False(t, snap.IsStale())
	snap.openedAt = time.Now().Add(-snapshotWarnAfter - time.Second)
	assert.True(t, snap.IsStale())
}
