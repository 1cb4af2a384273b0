package config

import (
	"fmt"
	"time"
)

// YearMonthDay is a calendar date (UTC, no time-of-day) used for the
// season window boundaries. It marshals from/to YAML as "YYYY-MM-DD".
type YearMonthDay struct {
	t time.Time
}

// Time returns the underlying UTC midnight instant.
func (d YearMonthDay) Time() time.Time {
	return d.t
}

// NewDate builds a YearMonthDay directly, for callers (tests, the
// cold-backup rotation logic) that need one without going through
// YAML.
func NewDate(year int, month time.Month, day int) YearMonthDay {
	return YearMonthDay{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// IsZero reports whether the date was never set.
func (d YearMonthDay) IsZero() bool {
	return d.t.IsZero()
}

// UnmarshalYAML parses a "YYYY-MM-DD" scalar.
func (d *YearMonthDay) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", s, err)
	}
	d.t = t
	return nil
}

// MarshalYAML renders the date back as "YYYY-MM-DD".
func (d YearMonthDay) MarshalYAML() (interface{}, error) {
	return d.t.Format("2006-01-02"), nil
}
