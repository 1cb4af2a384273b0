// Package artifact builds the compressed JSON artifact Data Sleigh
// pushes to the object store (spec.md §4.6). Grounded on
// `_examples/original_source/data_sleigh/src/data_sleigh/uploader.py`'s
// `create_json_output` field shape.
package artifact

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xmastree/datasleigh/internal/aggregate"
	"github.com/xmastree/datasleigh/internal/segment"
)

// Artifact is the complete document published while in season.
type Artifact struct {
	GeneratedAt        time.Time     `json:"generated_at"`
	Season             Season        `json:"season"`
	ReplayDelaySeconds int           `json:"replay_delay_seconds"`
	MinutesOfData      int           `json:"minutes_of_data"`
	Measurements       []Measurement `json:"measurements"`
}

// Season is the artifact's season window, spec.md §4.6's
// `season:{start,end,is_active}` object.
type Season struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	IsActive bool      `json:"is_active"`
}

// Measurement is one series' aggregates plus optional segment
// analysis.
type Measurement struct {
	Name  string             `json:"name"`
	Agg1m []aggregate.Bucket `json:"agg_1m,omitempty"`
	Agg5m []aggregate.Bucket `json:"agg_5m,omitempty"`
	Agg1h []aggregate.Bucket `json:"agg_1h,omitempty"`
	// ParseFailures counts records excluded from the aggregates above
	// because their payload didn't parse as numeric (spec.md §4.4).
	ParseFailures int       `json:"parse_failures,omitempty"`
	Analysis      *Analysis `json:"analysis,omitempty"`
}

// Analysis is the segmenter output for one measurement. Extrema is a
// supplemental, non-authoritative diagnostic field recovered from
// analyzer.py (see SPEC_FULL.md §5.1); consumers should treat
// Segments/CurrentPrediction as the source of truth.
type Analysis struct {
	Segments          []SegmentSummary   `json:"segments"`
	CurrentPrediction *PredictionSummary `json:"current_prediction,omitempty"`
	Extrema           *Extrema           `json:"extrema,omitempty"`
}

// SegmentSummary is the JSON projection of segment.Segment.
type SegmentSummary struct {
	ID           int       `json:"id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	SlopePerHour float64   `json:"slope_per_hour"`
	R2           float64   `json:"r2"`
	Points       int       `json:"points"`
	IsCurrent    bool      `json:"is_current"`
}

// PredictionSummary is the JSON projection of segment.Prediction.
type PredictionSummary struct {
	TargetValue float64   `json:"target_value"`
	PredictedAt time.Time `json:"predicted_at"`
	Confident   bool      `json:"confident"`
}

// Extrema carries local minima/maxima values, recovered from
// analyzer.py's peak-finding pass as an optional diagnostic.
type Extrema struct {
	Minima []ExtremumPoint `json:"minima,omitempty"`
	Maxima []ExtremumPoint `json:"maxima,omitempty"`
}

// ExtremumPoint is one local minimum or maximum.
type ExtremumPoint struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// FromSegments converts the segmenter's native output into the
// artifact's JSON shape, rendering slope as units/hour for readability
// in the emitted document (the segmenter itself works in units/second
// internally).
func FromSegments(segs []segment.Segment, pred *segment.Prediction, extrema segment.Extrema) *Analysis {
	a := &Analysis{Segments: make([]SegmentSummary, 0, len(segs))}
	for _, s := range segs {
		a.Segments = append(a.Segments, SegmentSummary{
			ID:           s.ID,
			Start:        s.Start,
			End:          s.End,
			SlopePerHour: s.Slope * 3600,
			R2:           s.R2,
			Points:       s.Points,
			IsCurrent:    s.IsCurrent,
		})
	}
	if pred != nil {
		a.CurrentPrediction = &PredictionSummary{
			TargetValue: pred.TargetValue,
			PredictedAt: pred.PredictedAt,
			Confident:   pred.Confident,
		}
	}
	if len(extrema.Minima) > 0 || len(extrema.Maxima) > 0 {
		a.Extrema = &Extrema{
			Minima: fromExtremumPoints(extrema.Minima),
			Maxima: fromExtremumPoints(extrema.Maxima),
		}
	}
	return a
}

func fromExtremumPoints(pts []segment.ExtremumPoint) []ExtremumPoint {
	out := make([]ExtremumPoint, len(pts))
	for i, p := range pts {
		out[i] = ExtremumPoint{Time: p.T, Value: p.V}
	}
	return out
}

// MarshalGzip renders the artifact as gzip-compressed JSON, the shape
// Publisher PUTs to the object store.
func (a *Artifact) MarshalGzip() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("encoding artifact: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
