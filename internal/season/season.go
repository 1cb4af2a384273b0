// Package season determines whether Data Sleigh is in its live
// (in-season) or cold-backup (off-season) operating mode. Grounded on
// `_examples/original_source/data_sleigh/src/data_sleigh/app.py::is_in_season`.
package season

import (
	"time"

	"github.com/xmastree/datasleigh/internal/config"
)

// Mode is the Publisher's current operating branch (spec.md §4.7).
type Mode string

const (
	ModeInSeason  Mode = "in_season"
	ModeOffSeason Mode = "off_season"
)

// Current returns the mode for now given the configured season
// window.
func Current(cfg config.Season, now time.Time) Mode {
	if cfg.IsActive(now) {
		return ModeInSeason
	}
	return ModeOffSeason
}

// Gate re-evaluates Current on every Check call and reports whether
// the mode changed since the previous check, so the Publisher can log
// a transition exactly once instead of on every loop iteration.
type Gate struct {
	cfg  config.Season
	last Mode
	seen bool
}

// NewGate builds a Gate for the given season window.
func NewGate(cfg config.Season) *Gate {
	return &Gate{cfg: cfg}
}

// Check returns the current mode and whether it differs from the mode
// returned by the previous call.
func (g *Gate) Check(now time.Time) (mode Mode, changed bool) {
	mode = Current(g.cfg, now)
	changed = !g.seen || mode != g.last
	g.last = mode
	g.seen = true
	return mode, changed
}

// Cfg returns the season window the Gate was built with.
func (g *Gate) Cfg() config.Season {
	return g.cfg
}
