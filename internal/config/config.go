// Package config loads Data Sleigh's effective configuration from a YAML
// file plus environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceA is the local broker (Source-A) configuration.
type SourceA struct {
	Broker    string        `yaml:"broker"`
	Port      int           `yaml:"port"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	ClientID  string        `yaml:"client_id"`
	Keepalive time.Duration `yaml:"keepalive_seconds"`
	QoS       byte          `yaml:"qos"`
	Topics    []Topic       `yaml:"topics"`
}

// Topic maps one Source-A subscription pattern to a store table.
type Topic struct {
	Pattern     string `yaml:"pattern"`
	Table       string `yaml:"table"`
	Description string `yaml:"description"`
}

// SourceB is the cloud pub/sub (Source-B / YoLink-shaped) configuration.
type SourceB struct {
	Enabled             bool   `yaml:"enabled"`
	TokenURL            string `yaml:"token_url"`
	Broker              string `yaml:"broker"`
	Port                int    `yaml:"port"`
	ClientID            string `yaml:"client_id"`
	UAID                string `yaml:"uaid"`
	SecretKey           string `yaml:"secret_key"`
	AirSensorDeviceID   string `yaml:"air_sensor_device_id"`
	WaterSensorDeviceID string `yaml:"water_sensor_device_id"`
	Table               string `yaml:"table"`
}

// Store is the embedded store configuration.
type Store struct {
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval_seconds"`
	MaxStorageMB  int64         `yaml:"max_storage_mb"`
}

// Season is the operator-configured UTC date window.
type Season struct {
	Start YearMonthDay `yaml:"start"`
	End   YearMonthDay `yaml:"end"`
}

// IsActive reports whether now (UTC) falls in [Start, End).
func (s Season) IsActive(now time.Time) bool {
	d := now.UTC()
	start := s.Start.Time()
	end := s.End.Time()
	return !d.Before(start) && d.Before(end)
}

// Publish configures the object-store target and publish cadence.
type Publish struct {
	Bucket              string        `yaml:"bucket"`
	Key                 string        `yaml:"key"`
	BackupPrefix        string        `yaml:"backup_prefix"`
	Endpoint            string        `yaml:"endpoint"`
	Region              string        `yaml:"region"`
	AWSKey              string        `yaml:"aws_key"`
	AWSSecret           string        `yaml:"aws_secret"`
	IntervalSeconds     time.Duration `yaml:"interval_seconds"`
	MinutesOfData       int           `yaml:"minutes_of_data"`
	ReplayDelaySeconds  int           `yaml:"replay_delay_seconds"`
	MaxConsecutiveFails int           `yaml:"max_consecutive_failures"`
}

// Backup configures the off-season monthly cold-backup timing.
type Backup struct {
	DayOfMonth int `yaml:"day_of_month"`
	Hour       int `yaml:"hour"`
}

// Alerting configures the Health Monitor's SMTP notifications.
type Alerting struct {
	EmailTo             string        `yaml:"email_to"`
	SMTPHost            string        `yaml:"smtp_host"`
	SMTPPort            int           `yaml:"smtp_port"`
	SMTPUsername        string        `yaml:"smtp_username"`
	SMTPPassword        string        `yaml:"smtp_password"`
	DBSizeThresholdMB   int64         `yaml:"db_size_mb"`
	FreeSpaceThresholdMB int64        `yaml:"free_space_mb"`
	CooldownHours       time.Duration `yaml:"cooldown_hours"`
}

// Segment tunes the piecewise-linear regression segmenter. These are
// the implementer-fixed values spec.md §9 requires to be configurable
// rather than hardcoded.
type Segment struct {
	MinR2          float64 `yaml:"min_r2"`
	MinPoints      int     `yaml:"min_points"`
	JumpThreshold  float64 `yaml:"jump_threshold"`
	EmptyThreshold float64 `yaml:"empty_threshold"`
}

// Logging configures the process-wide zap logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete effective configuration.
type Config struct {
	SourceA  SourceA  `yaml:"source_a"`
	SourceB  SourceB  `yaml:"source_b"`
	Store    Store    `yaml:"store"`
	Season   Season   `yaml:"season"`
	Publish  Publish  `yaml:"publish"`
	Backup   Backup   `yaml:"backup"`
	Alerting Alerting `yaml:"alerting"`
	Segment  Segment  `yaml:"segment"`
	Logging  Logging  `yaml:"logging"`
}

// Load reads a YAML configuration file, applies defaults, applies
// environment-variable overrides for secrets and connection details,
// and validates the result. Invalid configuration is fatal per
// spec.md §7: the caller should treat a non-nil error as a reason to
// exit before starting any subscriber.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.SourceA.Port == 0 {
		c.SourceA.Port = 1883
	}
	if c.SourceA.Keepalive == 0 {
		c.SourceA.Keepalive = 60 * time.Second
	} else {
		c.SourceA.Keepalive *= time.Second
	}
	if c.SourceB.Table == "" {
		c.SourceB.Table = "device_events"
	}
	if c.SourceB.Port == 0 {
		c.SourceB.Port = 8883
	}
	if c.Store.BatchSize == 0 {
		c.Store.BatchSize = 5000
	}
	if c.Store.FlushInterval == 0 {
		c.Store.FlushInterval = 300 * time.Second
	} else {
		c.Store.FlushInterval *= time.Second
	}
	if c.Publish.IntervalSeconds == 0 {
		c.Publish.IntervalSeconds = 30 * time.Second
	} else {
		c.Publish.IntervalSeconds *= time.Second
	}
	if c.Publish.MinutesOfData == 0 {
		c.Publish.MinutesOfData = 10
	}
	if c.Publish.ReplayDelaySeconds == 0 {
		c.Publish.ReplayDelaySeconds = 300
	}
	if c.Publish.MaxConsecutiveFails == 0 {
		c.Publish.MaxConsecutiveFails = 10
	}
	if c.Publish.Key == "" {
		c.Publish.Key = "live.json.gz"
	}
	if c.Publish.BackupPrefix == "" {
		c.Publish.BackupPrefix = "backups/"
	}
	if c.Backup.DayOfMonth == 0 {
		c.Backup.DayOfMonth = 1
	}
	if c.Alerting.CooldownHours == 0 {
		c.Alerting.CooldownHours = 24 * time.Hour
	} else {
		c.Alerting.CooldownHours *= time.Hour
	}
	if c.Segment.MinR2 == 0 {
		c.Segment.MinR2 = 0.4
	}
	if c.Segment.MinPoints == 0 {
		c.Segment.MinPoints = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("SOURCE_A_BROKER"); v != "" {
		c.SourceA.Broker = v
	}
	if v := os.Getenv("SOURCE_A_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.SourceA.Port = p
		}
	}
	if v := os.Getenv("SOURCE_A_USERNAME"); v != "" {
		c.SourceA.Username = v
	}
	if v := os.Getenv("SOURCE_A_PASSWORD"); v != "" {
		c.SourceA.Password = v
	}
	if v := os.Getenv("SOURCE_B_UAID"); v != "" {
		c.SourceB.UAID = v
	}
	if v := os.Getenv("SOURCE_B_SECRET"); v != "" {
		c.SourceB.SecretKey = v
	}
	if v := os.Getenv("PUBLISH_AWS_KEY"); v != "" {
		c.Publish.AWSKey = v
	}
	if v := os.Getenv("PUBLISH_AWS_SECRET"); v != "" {
		c.Publish.AWSSecret = v
	}
	if v := os.Getenv("ALERT_SMTP_PASSWORD"); v != "" {
		c.Alerting.SMTPPassword = v
	}
}

func validate(c *Config) error {
	if c.SourceA.Broker == "" {
		return fmt.Errorf("source_a.broker is required")
	}
	if len(c.SourceA.Topics) == 0 {
		return fmt.Errorf("at least one source_a.topics entry is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Publish.Bucket == "" {
		return fmt.Errorf("publish.bucket is required")
	}
	if c.Season.Start.IsZero() || c.Season.End.IsZero() {
		return fmt.Errorf("season.start and season.end are required")
	}
	if c.SourceB.Enabled {
		if c.SourceB.TokenURL == "" || c.SourceB.Broker == "" {
			return fmt.Errorf("source_b.token_url and source_b.broker are required when source_b.enabled")
		}
		if c.SourceB.UAID == "" || c.SourceB.SecretKey == "" {
			return fmt.Errorf("source_b.uaid and source_b.secret_key are required when source_b.enabled")
		}
	}
	return nil
}

// Redacted returns a copy of the config with secrets replaced, suitable
// for the startup notification and the /debug/config endpoint.
func (c Config) Redacted() Config {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "(redacted)"
	}
	c.SourceA.Password = redact(c.SourceA.Password)
	c.SourceB.SecretKey = redact(c.SourceB.SecretKey)
	c.Publish.AWSKey = redact(c.Publish.AWSKey)
	c.Publish.AWSSecret = redact(c.Publish.AWSSecret)
	c.Alerting.SMTPPassword = redact(c.Alerting.SMTPPassword)
	return c
}
