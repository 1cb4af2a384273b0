package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearPoints(start time.Time, n int, step time.Duration, slope, intercept float64) []Point {
	pts := make([]Point, n)
	for i := 0; i < n; i++ {
		t := start.Add(time.Duration(i) * step)
		pts[i] = Point{T: t, V: intercept + slope*t.Sub(start).Seconds()}
	}
	return pts
}

func TestOLSFitsExactLine(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := linearPoints(start, 10, time.Minute, 0.01, 5.0)

	slope, intercept, r2 := ols(pts)
	assert.InDelta(t, 0.01, slope, 1e-9)
	assert.InDelta(t, 5.0, intercept, 1e-6)
	assert.InDelta(t, 1.0, r2, 1e-6)
}

func TestFitRecursiveDropsShortIntervals(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := linearPoints(start, 2, time.Minute, 1, 0)
	cfg := Config{MinR2: 0.9, MinPoints: 5}
	segs := fitRecursive(pts, cfg)
	assert.Empty(t, segs)
}

func TestFitRecursiveSplitsPoorFit(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Two very different slopes concatenated; a single fit across both
	// should have poor R^2 and force a split.
	first := linearPoints(start, 10, time.Minute, 0.0, 0.0)
	second := linearPoints(start.Add(10*time.Minute), 10, time.Minute, 5.0, 0.0)
	for i := range second {
		second[i].V += first[len(first)-1].V
	}
	pts := append(first, second...)

	cfg := Config{MinR2: 0.95, MinPoints: 3}
	segs := fitRecursive(pts, cfg)
	assert.GreaterOrEqual(t, len(segs), 2)
}

func TestSplitOnRefillEventsCutsOnJump(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := []Point{
		{T: start, V: 100},
		{T: start.Add(time.Minute), V: 101},
		{T: start.Add(2 * time.Minute), V: 20}, // refill: sharp drop
		{T: start.Add(3 * time.Minute), V: 21},
	}
	groups := splitOnRefillEvents(pts, 10)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
}

func TestRejectOutliersDropsSpike(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]Point, 0, 11)
	for i := 0; i < 10; i++ {
		pts = append(pts, Point{T: start.Add(time.Duration(i) * time.Minute), V: 100})
	}
	pts = append(pts, Point{T: start.Add(5*time.Minute + time.Second), V: 9999})

	clean := rejectOutliers(pts)
	for _, p := range clean {
		assert.NotEqual(t, 9999.0, p.V)
	}
}

func TestPredictClampsToNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seg := Segment{Start: now.Add(-time.Hour), Slope: 1, Intercept: 0}
	// valueAt(now) = 3600; target already behind us given this slope.
	pred := predict(seg, 100, now)
	assert.False(t, pred.Confident)
	assert.Equal(t, now, pred.PredictedAt)
}

func TestPredictProjectsForwardWhenMovingTowardTarget(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seg := Segment{Start: now, Slope: 1, Intercept: 0}
	pred := predict(seg, 3600, now)
	require.True(t, pred.Confident)
	assert.True(t, pred.PredictedAt.After(now) || pred.PredictedAt.Equal(now))
}

func TestAnalyzeEndToEnd(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := linearPoints(start, 30, time.Minute, 0.5/60, 10)

	segs, pred, _ := Analyze(pts, Config{MinR2: 0.8, MinPoints: 3, JumpThreshold: 20}, 40, start.Add(29*time.Minute))
	require.NotEmpty(t, segs)
	require.NotNil(t, pred)
}

func TestAnalyzeAssignsIDsInTimeOrderAndMarksLastCurrent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Two refill-separated groups, each large enough to fit on its own.
	first := linearPoints(start, 10, time.Minute, 0.1, 0)
	second := linearPoints(start.Add(10*time.Minute), 10, time.Minute, 0.2, 0)
	for i := range second {
		second[i].V += first[len(first)-1].V + 500 // refill jump
	}
	pts := append(first, second...)

	cfg := Config{MinR2: 0, MinPoints: 3, JumpThreshold: 50}
	segs, pred, _ := Analyze(pts, cfg, 9999, start.Add(19*time.Minute))
	require.Len(t, segs, 2)
	for i, s := range segs {
		assert.Equal(t, i, s.ID)
	}
	assert.False(t, segs[0].IsCurrent)
	assert.True(t, segs[len(segs)-1].IsCurrent)
	require.NotNil(t, pred)
}

func TestAnalyzeSuppressesCurrentWhenRefillTooRecent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// A long established interval, then a refill with only a couple of
	// points since — too recent to trust as the current trend.
	established := linearPoints(start, 20, time.Minute, 0.1, 0)
	tooRecent := linearPoints(start.Add(20*time.Minute), 2, time.Minute, 0.1, 0)
	for i := range tooRecent {
		tooRecent[i].V += established[len(established)-1].V + 500
	}
	pts := append(established, tooRecent...)

	cfg := Config{MinR2: 0, MinPoints: 5, JumpThreshold: 50}
	segs, pred, _ := Analyze(pts, cfg, 9999, start.Add(21*time.Minute))
	for _, s := range segs {
		assert.False(t, s.IsCurrent)
	}
	assert.Nil(t, pred)
}

func TestFindPeaksFindsProminentSpike(t *testing.T) {
	// A flat series with one clear spike in the middle.
	vals := make([]float64, 60)
	for i := range vals {
		vals[i] = 10
	}
	vals[30] = 25

	peaks := findPeaks(vals, 5, 5)
	require.Len(t, peaks, 1)
	assert.Equal(t, 30, peaks[0])
}

func TestFindPeaksIgnoresLowProminence(t *testing.T) {
	vals := make([]float64, 60)
	for i := range vals {
		vals[i] = 10
	}
	vals[30] = 11 // barely above the noise floor

	peaks := findPeaks(vals, 5, 5)
	assert.Empty(t, peaks)
}

func TestAnalyzeReportsExtremaOnCleanSeries(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]Point, 0, 80)
	for i := 0; i < 80; i++ {
		// A wide plateau (wider than the smoothing window) so the bump
		// survives rolling-median smoothing intact.
		v := 10.0
		if i >= 30 && i <= 50 {
			v = 40.0
		}
		pts = append(pts, Point{T: start.Add(time.Duration(i) * time.Minute), V: v})
	}

	cfg := Config{MinR2: 0, MinPoints: 3, JumpThreshold: 1000}
	_, _, extrema := Analyze(pts, cfg, 9999, start.Add(79*time.Minute))
	assert.NotEmpty(t, extrema.Maxima)
}
