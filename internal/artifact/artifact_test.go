package artifact

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmastree/datasleigh/internal/aggregate"
	"github.com/xmastree/datasleigh/internal/segment"
)

func TestFromSegmentsConvertsSlopeToPerHour(t *testing.T) {
	now := time.Now()
	segs := []segment.Segment{{Start: now, End: now.Add(time.Hour), Slope: 1.0 / 3600, R2: 0.9, Points: 10}}
	pred := &segment.Prediction{TargetValue: 50, PredictedAt: now.Add(time.Hour), Confident: true}

	a := FromSegments(segs, pred, segment.Extrema{})
	require.Len(t, a.Segments, 1)
	assert.InDelta(t, 1.0, a.Segments[0].SlopePerHour, 1e-9)
	require.NotNil(t, a.CurrentPrediction)
	assert.True(t, a.CurrentPrediction.Confident)
	assert.Nil(t, a.Extrema)
}

func TestFromSegmentsWiresExtrema(t *testing.T) {
	now := time.Now()
	extrema := segment.Extrema{
		Minima: []segment.ExtremumPoint{{T: now, V: 1.0}},
		Maxima: []segment.ExtremumPoint{{T: now.Add(time.Hour), V: 9.0}},
	}
	a := FromSegments(nil, nil, extrema)
	require.NotNil(t, a.Extrema)
	require.Len(t, a.Extrema.Minima, 1)
	require.Len(t, a.Extrema.Maxima, 1)
	assert.Equal(t, 9.0, a.Extrema.Maxima[0].Value)
}

func TestMarshalGzipRoundTrips(t *testing.T) {
	now := time.Now().UTC()
	a := &Artifact{
		GeneratedAt:   now,
		Season:        Season{Start: now.AddDate(0, -1, 0), End: now.AddDate(0, 1, 0), IsActive: true},
		MinutesOfData: 10,
		Measurements: []Measurement{
			{Name: "tank-1", Agg1m: []aggregate.Bucket{{Mean: 10, Min: 9, Max: 11, Count: 3}}},
		},
	}

	data, err := a.MarshalGzip()
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	var decoded Artifact
	require.NoError(t, json.NewDecoder(gz).Decode(&decoded))
	assert.True(t, decoded.Season.IsActive)
	require.Len(t, decoded.Measurements, 1)
	assert.Equal(t, "tank-1", decoded.Measurements[0].Name)
}
