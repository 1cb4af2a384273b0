// Package aggregate buckets raw store records into fixed-resolution
// time-series summaries, grounded on
// `_examples/original_source/data_sleigh/src/data_sleigh/aggregator.py`'s
// `query_aggregated_data` bucket/stat shape and the teacher's
// `pkg/compaction/compactor.go` manual bucket-rounding idiom.
package aggregate

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xmastree/datasleigh/internal/store"
)

// Resolution is one of the three fixed aggregation windows spec.md §4.4
// names.
type Resolution struct {
	Name   string
	Window time.Duration
}

var (
	Resolution1m = Resolution{Name: "1m", Window: time.Minute}
	Resolution5m = Resolution{Name: "5m", Window: 5 * time.Minute}
	Resolution1h = Resolution{Name: "1h", Window: time.Hour}
)

// Bucket is one time-bucketed summary. JSON tags match the artifact's
// compact key shape from spec.md §4.6.
type Bucket struct {
	Time   time.Time `json:"t"`
	Mean   float64   `json:"m"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Count  int       `json:"c"`
	StdDev float64   `json:"s,omitempty"`
}

// TruncateToBucket epoch-aligns t to the start of its resolution
// window. Unlike time.Time.Truncate, this is correct for windows that
// do not evenly divide a day when the zero time is not UTC midnight;
// for 60s/300s/3600s it is equivalent but kept explicit since the
// Aggregator is only ever fed these three windows.
func TruncateToBucket(t time.Time, res time.Duration) time.Time {
	sec := t.Unix()
	resSec := int64(res / time.Second)
	if resSec <= 0 {
		return t.UTC()
	}
	bucketSec := (sec / resSec) * resSec
	if sec < 0 && sec%resSec != 0 {
		bucketSec -= resSec
	}
	return time.Unix(bucketSec, 0).UTC()
}

// ParseValue interprets a record's opaque payload as a float64 — the
// aggregation-time numeric interpretation spec.md §9 requires
// ("perform numeric parsing at aggregation time with explicit failure
// accounting"). DeviceEvent records carry an already-typed
// Temperature instead of a string payload (spec.md §3 types it at
// ingest), so that takes precedence when present.
func ParseValue(r store.Record) (float64, bool) {
	if r.Temperature != nil {
		return *r.Temperature, true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Payload), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CountParseFailures reports how many records could not be
// numerically interpreted by ParseValue — excluded from aggregate
// statistics but still counted separately in diagnostics, per spec.md
// §4.4.
func CountParseFailures(records []store.Record) int {
	n := 0
	for _, r := range records {
		if _, ok := ParseValue(r); !ok {
			n++
		}
	}
	return n
}

// Aggregate buckets records by TruncateToBucket(record.Timestamp, res)
// and computes min/mean/max/count/stddev per bucket. Records whose
// payload fails to parse (see ParseValue) are excluded from every
// bucket's statistics. StdDev uses the Bessel-corrected sample formula
// and is only populated when a bucket has 2 or more points, matching
// spec.md §4.4's edge case for single-point buckets.
func Aggregate(records []store.Record, res time.Duration) []Bucket {
	type accum struct {
		t          time.Time
		sum, sumSq float64
		min, max   float64
		count      int
	}

	buckets := make(map[int64]*accum)
	for _, r := range records {
		v, ok := ParseValue(r)
		if !ok {
			continue
		}
		bt := TruncateToBucket(r.Timestamp, res)
		key := bt.Unix()
		a, ok := buckets[key]
		if !ok {
			a = &accum{t: bt, min: v, max: v}
			buckets[key] = a
		}
		a.sum += v
		a.sumSq += v * v
		a.count++
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}

	out := make([]Bucket, 0, len(buckets))
	for _, a := range buckets {
		mean := a.sum / float64(a.count)
		b := Bucket{
			Time:  a.t,
			Mean:  mean,
			Min:   a.min,
			Max:   a.max,
			Count: a.count,
		}
		if a.count >= 2 {
			variance := (a.sumSq - float64(a.count)*mean*mean) / float64(a.count-1)
			if variance < 0 {
				variance = 0
			}
			b.StdDev = math.Sqrt(variance)
		}
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Horizon clips a slice of records to [anchor-window, anchor], where
// anchor is the latest record timestamp rather than time.Now, matching
// `aggregator.py::query_water_levels`'s choice to anchor on
// MAX(timestamp) instead of NOW() to avoid timezone/clock skew between
// the ingest host and whatever host runs aggregation.
func Horizon(records []store.Record, window time.Duration) []store.Record {
	if len(records) == 0 {
		return records
	}
	anchor := records[0].Timestamp
	for _, r := range records {
		if r.Timestamp.After(anchor) {
			anchor = r.Timestamp
		}
	}
	cutoff := anchor.Add(-window)

	out := make([]store.Record, 0, len(records))
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}
