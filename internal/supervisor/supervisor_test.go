package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		SourceA: config.SourceA{
			Broker:    "127.0.0.1",
			Port:      1,
			Keepalive: 60 * time.Second,
			Topics: []config.Topic{
				{Pattern: "tank/level", Table: "observations", Description: "tank_level"},
			},
		},
		Store: config.Store{
			Path:          filepath.Join(t.TempDir(), "store"),
			BatchSize:     100,
			FlushInterval: time.Second,
		},
		Season: config.Season{
			Start: config.NewDate(2000, time.January, 1),
			End:   config.NewDate(2100, time.January, 1),
		},
		Publish: config.Publish{
			Bucket:          "datasleigh-test",
			Endpoint:        "127.0.0.1:1",
			Region:          "us-east-1",
			AWSKey:          "test",
			AWSSecret:       "test",
			IntervalSeconds: time.Hour,
		},
		Backup: config.Backup{DayOfMonth: 1, Hour: 3},
		Segment: config.Segment{MinR2: 0.4, MinPoints: 5},
		Logging: config.Logging{Level: "error"},
	}
}

func TestNewAssemblesEveryComponent(t *testing.T) {
	sup, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, sup.handle)
	assert.NotNil(t, sup.buffer)
	assert.NotNil(t, sup.sourceA)
	assert.Nil(t, sup.sourceB)
	assert.NotNil(t, sup.pub)
	assert.NotNil(t, sup.monitor)
	require.NoError(t, sup.handle.Get().Close())
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Publish.IntervalSeconds = time.Hour
	sup, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + 5*time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestMeasurementsFromConfigCoversSourceAAndB(t *testing.T) {
	cfg := testConfig(t)
	cfg.SourceB = config.SourceB{
		Enabled:             true,
		AirSensorDeviceID:   "air-1",
		WaterSensorDeviceID: "water-1",
		Table:               "device_events",
	}

	measurements := measurementsFromConfig(cfg)
	require.Len(t, measurements, 3)
	assert.Equal(t, "tank_level", measurements[0].Name)
	assert.Equal(t, "air", measurements[1].Name)
	assert.Equal(t, "water", measurements[2].Name)
}
