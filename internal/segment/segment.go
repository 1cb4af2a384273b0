// Package segment implements the piecewise-linear regression
// segmenter (spec.md §4.5): it splits a measurement's history into
// intervals of roughly-linear drift, fits each by ordinary least
// squares, and projects when the current interval will cross a
// configured threshold. Algorithmically grounded on
// `_examples/original_source/data_sleigh/src/data_sleigh/analyzer.py`,
// re-expressed as spec.md's recursive-split-on-goodness-of-fit rather
// than the original's peak-finding approach (spec.md's sketch is
// authoritative; analyzer.py resolves constants left ambiguous there).
package segment

import (
	"math"
	"sort"
	"time"
)

// Point is one (time, value) sample fed into the segmenter. Value is
// whatever raw unit the sensor reports; unit conversion is explicitly
// out of scope (spec.md §9).
type Point struct {
	T time.Time
	V float64
}

// Config tunes the segmenter. Every field here is deliberately
// operator-configurable rather than a hardcoded constant, per spec.md
// §9's open question on this exact point.
type Config struct {
	MinR2         float64
	MinPoints     int
	JumpThreshold float64
}

// Segment is one fitted linear interval.
type Segment struct {
	ID         int // dense, time-ordered, oldest = 0 (spec.md §3)
	Start, End time.Time
	Slope      float64 // units per second
	Intercept  float64 // value at Start
	R2         float64
	Points     int
	IsCurrent  bool // true for the latest segment, unless suppressed (spec.md §4.5 step 4)
}

// valueAt evaluates the fitted line at t.
func (s Segment) valueAt(t time.Time) float64 {
	return s.Intercept + s.Slope*t.Sub(s.Start).Seconds()
}

// Prediction is the current-interval projection to a target value.
type Prediction struct {
	TargetValue float64
	PredictedAt time.Time
	Confident   bool // false when the current segment's slope does not move toward TargetValue
}

const (
	outlierWindow      = 5 * time.Minute
	outlierMADMultiple = 6.0

	// extremaSmoothWindow matches analyzer.py's "10min" centered rolling
	// median applied before peak-finding.
	extremaSmoothWindow = 10 * time.Minute
	// extremaProminence matches analyzer.py's PROMINENCE_MM constant;
	// the unit is whatever the measurement reports (spec.md §9 leaves
	// units unconverted), so this is a reasonable default rather than a
	// unit-correct threshold.
	extremaProminence = 5.0
	// extremaMinDistance matches analyzer.py's MIN_PEAK_DISTANCE_SAMPLES.
	extremaMinDistance = 20
)

// ExtremumPoint is one local minimum or maximum in the smoothed series.
type ExtremumPoint struct {
	T time.Time
	V float64
}

// Extrema carries local minima/maxima detected on the smoothed series,
// a supplemental non-authoritative diagnostic recovered from
// analyzer.py's find_peaks pass (SPEC_FULL.md §5.1).
type Extrema struct {
	Minima []ExtremumPoint
	Maxima []ExtremumPoint
}

// Analyze runs the full pipeline: outlier rejection, refill-event
// splitting, recursive per-interval OLS, a current-segment projection
// to target, and a supplemental local-extrema pass.
func Analyze(points []Point, cfg Config, target float64, now time.Time) ([]Segment, *Prediction, Extrema) {
	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].T.Before(sorted[j].T) })

	clean := rejectOutliers(sorted)

	groups := splitOnRefillEvents(clean, cfg.JumpThreshold)

	var segments []Segment
	for _, group := range groups {
		segments = append(segments, fitRecursive(group, cfg)...)
	}

	for i := range segments {
		segments[i].ID = i
	}

	// A refill event closer to now than cfg.MinPoints worth of data
	// suppresses is_current (spec.md §4.5 step 4): the most recent
	// candidate interval hasn't accumulated enough points since its
	// refill to trust a current-segment projection from it yet.
	suppressed := len(groups) > 0 && len(groups[len(groups)-1]) < cfg.MinPoints

	var pred *Prediction
	if len(segments) > 0 && !suppressed {
		last := &segments[len(segments)-1]
		last.IsCurrent = true
		pred = predict(*last, target, now)
	}

	return segments, pred, findExtrema(clean)
}

// findExtrema smooths the cleaned series with a centered rolling
// median (analyzer.py's SMOOTH_WIN), then reports local maxima/minima
// on the smoothed series whose topographic prominence meets
// extremaProminence, approximating scipy.signal.find_peaks applied to
// the series and its negation.
func findExtrema(points []Point) Extrema {
	if len(points) < 3 {
		return Extrema{}
	}

	smoothed := make([]float64, len(points))
	for i := range points {
		smoothed[i] = median(windowAround(points, i, extremaSmoothWindow/2))
	}

	maxIdx := findPeaks(smoothed, extremaProminence, extremaMinDistance)
	inverted := make([]float64, len(smoothed))
	for i, v := range smoothed {
		inverted[i] = -v
	}
	minIdx := findPeaks(inverted, extremaProminence, extremaMinDistance)

	toExtrema := func(idx []int) []ExtremumPoint {
		out := make([]ExtremumPoint, len(idx))
		for i, j := range idx {
			out[i] = ExtremumPoint{T: points[j].T, V: smoothed[j]}
		}
		return out
	}
	return Extrema{Minima: toExtrema(minIdx), Maxima: toExtrema(maxIdx)}
}

// findPeaks returns indices of local maxima in vals whose topographic
// prominence is at least minProminence, suppressing any peak within
// minDistance samples of a taller one — the same two filters
// scipy.signal.find_peaks applies via its prominence/distance
// arguments.
func findPeaks(vals []float64, minProminence float64, minDistance int) []int {
	var candidates []int
	for i := 1; i < len(vals)-1; i++ {
		if vals[i] >= vals[i-1] && vals[i] >= vals[i+1] && vals[i] > vals[i-1] {
			candidates = append(candidates, i)
		}
	}

	type scored struct {
		idx        int
		prominence float64
	}
	var peaks []scored
	for _, i := range candidates {
		leftMin := vals[i]
		for j := i - 1; j >= 0 && vals[j] <= vals[i]; j-- {
			if vals[j] < leftMin {
				leftMin = vals[j]
			}
		}
		rightMin := vals[i]
		for j := i + 1; j < len(vals) && vals[j] <= vals[i]; j++ {
			if vals[j] < rightMin {
				rightMin = vals[j]
			}
		}
		prominence := vals[i] - math.Max(leftMin, rightMin)
		if prominence >= minProminence {
			peaks = append(peaks, scored{idx: i, prominence: prominence})
		}
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].prominence > peaks[j].prominence })

	var kept []int
	for _, p := range peaks {
		tooClose := false
		for _, k := range kept {
			if abs(p.idx-k) < minDistance {
				tooClose = true
				break
			}
		}
		if !tooClose {
			kept = append(kept, p.idx)
		}
	}

	sort.Ints(kept)
	return kept
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// rejectOutliers applies a rolling-median + MAD filter over a window of
// ±outlierWindow around each point, dropping points that deviate from their local median
// by more than outlierMADMultiple MADs. Grounded on analyzer.py's
// rolling-median/MAD pre-filter, which exists to keep sensor noise
// from registering as spurious refill events.
func rejectOutliers(points []Point) []Point {
	if len(points) < 3 {
		return points
	}

	out := make([]Point, 0, len(points))
	for i, p := range points {
		window := windowAround(points, i, outlierWindow)
		med := median(window)
		mad := medianAbsDeviation(window, med)
		if math.Abs(p.V-med) <= outlierMADMultiple*mad {
			out = append(out, p)
		}
	}
	return out
}

func windowAround(points []Point, i int, half time.Duration) []float64 {
	center := points[i].T
	var vals []float64
	for j := i; j >= 0 && center.Sub(points[j].T) <= half; j-- {
		vals = append(vals, points[j].V)
	}
	for j := i + 1; j < len(points) && points[j].T.Sub(center) <= half; j++ {
		vals = append(vals, points[j].V)
	}
	return vals
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func medianAbsDeviation(vals []float64, med float64) float64 {
	devs := make([]float64, len(vals))
	for i, v := range vals {
		devs[i] = math.Abs(v - med)
	}
	return median(devs)
}

// splitOnRefillEvents cuts the series wherever consecutive points jump
// by at least cfg.JumpThreshold in either direction, since a refill
// (or a comparable step-change for other measurements) is not
// something a single linear fit should span.
func splitOnRefillEvents(points []Point, jumpThreshold float64) [][]Point {
	if len(points) == 0 {
		return nil
	}
	var groups [][]Point
	cur := []Point{points[0]}
	for i := 1; i < len(points); i++ {
		if jumpThreshold > 0 && math.Abs(points[i].V-points[i-1].V) >= jumpThreshold {
			groups = append(groups, cur)
			cur = []Point{points[i]}
			continue
		}
		cur = append(cur, points[i])
	}
	groups = append(groups, cur)
	return groups
}

// fitRecursive fits one candidate interval; if the fit's R^2 falls
// below cfg.MinR2 and both halves of a midpoint split would still meet
// cfg.MinPoints, it splits and recurses. Intervals smaller than
// cfg.MinPoints are dropped rather than fit, since a 1-2 point "line"
// is not a meaningful trend.
func fitRecursive(points []Point, cfg Config) []Segment {
	if len(points) < cfg.MinPoints {
		return nil
	}

	slope, intercept, r2 := ols(points)
	mid := len(points) / 2
	canSplit := r2 < cfg.MinR2 && mid >= cfg.MinPoints && (len(points)-mid) >= cfg.MinPoints

	if !canSplit {
		return []Segment{{
			Start:     points[0].T,
			End:       points[len(points)-1].T,
			Slope:     slope,
			Intercept: intercept,
			R2:        r2,
			Points:    len(points),
		}}
	}

	left := fitRecursive(points[:mid], cfg)
	right := fitRecursive(points[mid:], cfg)
	return append(left, right...)
}

// ols fits y = intercept + slope*x where x is seconds since the first
// point, and returns the coefficient of determination R^2. Hand-rolled
// since no regression library appears anywhere in the retrieved pack
// (see DESIGN.md).
func ols(points []Point) (slope, intercept, r2 float64) {
	n := float64(len(points))
	if n < 2 {
		return 0, points[0].V, 0
	}

	t0 := points[0].T
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.T.Sub(t0).Seconds()
		sumX += x
		sumY += p.V
		sumXY += x * p.V
		sumXX += x * x
	}
	meanX := sumX / n
	meanY := sumY / n

	denom := sumXX - n*meanX*meanX
	if denom == 0 {
		return 0, meanY, 0
	}
	slope = (sumXY - n*meanX*meanY) / denom
	intercept = meanY - slope*meanX

	var ssRes, ssTot float64
	for _, p := range points {
		x := p.T.Sub(t0).Seconds()
		yhat := intercept + slope*x
		ssRes += (p.V - yhat) * (p.V - yhat)
		ssTot += (p.V - meanY) * (p.V - meanY)
	}
	if ssTot == 0 {
		r2 = 1
	} else {
		r2 = 1 - ssRes/ssTot
	}
	return slope, intercept, r2
}

// predict projects the current (last) segment forward to target,
// clamping the result to never be earlier than now: a segment fit on
// stale data should never claim the target was already crossed in the
// past, matching spec.md §4.5's current-segment handling.
func predict(last Segment, target float64, now time.Time) *Prediction {
	current := last.valueAt(now)
	remaining := target - current

	movingTowardTarget := (remaining > 0 && last.Slope > 0) || (remaining < 0 && last.Slope < 0)
	if !movingTowardTarget || last.Slope == 0 {
		return &Prediction{TargetValue: target, PredictedAt: now, Confident: false}
	}

	secondsToTarget := remaining / last.Slope
	predictedAt := now.Add(time.Duration(secondsToTarget) * time.Second)
	if predictedAt.Before(now) {
		predictedAt = now
	}
	return &Prediction{TargetValue: target, PredictedAt: predictedAt, Confident: true}
}
