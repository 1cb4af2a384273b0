package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
source_a:
  broker: tcp://localhost:1883
  client_id: sleigh-test
  topics:
    - pattern: "sensors/+/water"
      table: observations
season:
  start: "2025-11-01"
  end: "2026-03-01"
store:
  path: ./data
publish:
  bucket: my-bucket
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1883, cfg.SourceA.Port)
	assert.Equal(t, 60*time.Second, cfg.SourceA.Keepalive)
	assert.Equal(t, "device_events", cfg.SourceB.Table)
	assert.Equal(t, 5000, cfg.Store.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Publish.IntervalSeconds)
	assert.Equal(t, 10, cfg.Publish.MinutesOfData)
	assert.Equal(t, "live.json.gz", cfg.Publish.Key)
	assert.Equal(t, 0.4, cfg.Segment.MinR2)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingRequiredFieldsFails(t *testing.T) {
	path := writeTempConfig(t, "source_a:\n  broker: \"\"\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	t.Setenv("SOURCE_A_PASSWORD", "from-env")
	t.Setenv("PUBLISH_AWS_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.SourceA.Password)
	assert.Equal(t, "env-key", cfg.Publish.AWSKey)
}

func TestSeasonIsActive(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	inSeason := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)
	offSeason := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, cfg.Season.IsActive(inSeason))
	assert.False(t, cfg.Season.IsActive(offSeason))
}

func TestRedactedHidesSecrets(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	t.Setenv("SOURCE_A_PASSWORD", "super-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	r := cfg.Redacted()
	assert.Equal(t, "(redacted)", r.SourceA.Password)
	assert.Equal(t, "super-secret", cfg.SourceA.Password)
}
