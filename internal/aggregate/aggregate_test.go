package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmastree/datasleigh/internal/store"
)

func TestTruncateToBucketEpochAligned(t *testing.T) {
	ts := time.Date(2026, 1, 15, 12, 34, 56, 0, time.UTC)
	got := TruncateToBucket(ts, time.Minute)
	assert.Equal(t, time.Date(2026, 1, 15, 12, 34, 0, 0, time.UTC), got)

	got5 := TruncateToBucket(ts, 5*time.Minute)
	assert.Equal(t, time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC), got5)

	got1h := TruncateToBucket(ts, time.Hour)
	assert.Equal(t, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), got1h)
}

func TestAggregateComputesStats(t *testing.T) {
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	records := []store.Record{
		{Timestamp: base, Payload: "10"},
		{Timestamp: base.Add(10 * time.Second), Payload: "20"},
		{Timestamp: base.Add(20 * time.Second), Payload: "30"},
	}

	buckets := Aggregate(records, time.Minute)
	require.Len(t, buckets, 1)

	b := buckets[0]
	assert.Equal(t, 3, b.Count)
	assert.InDelta(t, 20.0, b.Mean, 0.0001)
	assert.Equal(t, 10.0, b.Min)
	assert.Equal(t, 30.0, b.Max)
	assert.InDelta(t, 10.0, b.StdDev, 0.0001)
}

func TestAggregateSinglePointHasNoStdDev(t *testing.T) {
	records := []store.Record{{Timestamp: time.Now(), Payload: "5"}}
	buckets := Aggregate(records, time.Minute)
	require.Len(t, buckets, 1)
	assert.Equal(t, 0.0, buckets[0].StdDev)
	assert.Equal(t, 1, buckets[0].Count)
}

func TestAggregateOrdersBucketsByTime(t *testing.T) {
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	records := []store.Record{
		{Timestamp: base.Add(2 * time.Minute), Payload: "1"},
		{Timestamp: base, Payload: "2"},
		{Timestamp: base.Add(time.Minute), Payload: "3"},
	}
	buckets := Aggregate(records, time.Minute)
	require.Len(t, buckets, 3)
	assert.True(t, buckets[0].Time.Before(buckets[1].Time))
	assert.True(t, buckets[1].Time.Before(buckets[2].Time))
}

func TestHorizonAnchorsOnLatestRecordNotNow(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []store.Record{
		{Timestamp: base},
		{Timestamp: base.Add(5 * time.Minute)},
		{Timestamp: base.Add(20 * time.Minute)},
	}
	got := Horizon(records, 10*time.Minute)
	require.Len(t, got, 1)
	assert.Equal(t, base.Add(20*time.Minute), got[0].Timestamp)
}

func TestHorizonEmptyInput(t *testing.T) {
	assert.Empty(t, Horizon(nil, time.Minute))
}

func TestAggregateExcludesUnparseablePayloads(t *testing.T) {
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	records := []store.Record{
		{Timestamp: base, Payload: "10"},
		{Timestamp: base.Add(time.Second), Payload: "not-a-number"},
		{Timestamp: base.Add(2 * time.Second), Payload: "30"},
	}

	buckets := Aggregate(records, time.Minute)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2, buckets[0].Count)
	assert.InDelta(t, 20.0, buckets[0].Mean, 0.0001)
}

func TestCountParseFailuresCountsBadPayloadsOnly(t *testing.T) {
	records := []store.Record{
		{Payload: "1.5"},
		{Payload: "garbage"},
		{Payload: ""},
	}
	assert.Equal(t, 2, CountParseFailures(records))
}

func TestParseValuePrefersTemperatureOverPayload(t *testing.T) {
	temp := 68.2
	v, ok := ParseValue(store.Record{Temperature: &temp, Payload: "999"})
	assert.True(t, ok)
	assert.Equal(t, temp, v)
}
