// Package publish implements the mode-aware Publisher (spec.md §4.7):
// while in season it periodically builds and uploads the live
// artifact; off season it performs the monthly cold backup and store
// rotation instead. Grounded on the teacher's `pkg/server/tasks.go`
// (`RunCompaction`'s ticker + retry + health-recording shape) and
// `_examples/original_source/data_sleigh/src/data_sleigh/app.py`'s
// `_upload_loop`/`_backup_loop` two-branch mode logic.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/thanos-io/objstore"
	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/aggregate"
	"github.com/xmastree/datasleigh/internal/artifact"
	"github.com/xmastree/datasleigh/internal/config"
	"github.com/xmastree/datasleigh/internal/ingest"
	"github.com/xmastree/datasleigh/internal/season"
	"github.com/xmastree/datasleigh/internal/segment"
	"github.com/xmastree/datasleigh/internal/store"
)

// tickQuantum is the Run loop's wake-up granularity: fine enough to
// service the in-season upload_interval default of 30s, coarse enough
// to cheaply satisfy the off-season "wake at minute granularity"
// requirement from spec.md §4.7.
const tickQuantum = 10 * time.Second

// segmentAnalysisEvery matches app.py's "every 10th upload or first"
// cadence for running the (comparatively expensive) segmenter.
const segmentAnalysisEvery = 10

// FailureNotifier is implemented by internal/health so the Publisher
// can trigger an alert without importing it directly.
type FailureNotifier interface {
	NotifyPublishFailure(consecutiveFailures int, err error)
}

// Publisher owns the live-artifact and cold-backup loops.
type Publisher struct {
	cfg          config.Publish
	backupCfg    config.Backup
	measurements []Measurement
	segCfg       config.Segment

	handle *store.Handle
	buffer *ingest.Buffer
	bucket objstore.Bucket
	gate   *season.Gate
	notify FailureNotifier
	logger *zap.Logger

	lastPublish      time.Time
	consecutiveFails int
	uploadCount      int
	lastBackupMonth  string
}

// New constructs a Publisher.
func New(
	cfg config.Publish,
	backupCfg config.Backup,
	seasonCfg config.Season,
	segCfg config.Segment,
	measurements []Measurement,
	handle *store.Handle,
	buffer *ingest.Buffer,
	bucket objstore.Bucket,
	notify FailureNotifier,
	logger *zap.Logger,
) *Publisher {
	return &Publisher{
		cfg:          cfg,
		backupCfg:    backupCfg,
		measurements: measurements,
		segCfg:       segCfg,
		handle:       handle,
		buffer:       buffer,
		bucket:       bucket,
		gate:         season.NewGate(seasonCfg),
		notify:       notify,
		logger:       logger.Named("publish"),
	}
}

// Run drives the mode-aware loop until ctx is cancelled. It returns
// early (a fatal condition per spec.md §7) only once the in-season path
// reaches cfg.MaxConsecutiveFails consecutive publish failures.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickQuantum)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := p.tick(ctx, now); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) tick(ctx context.Context, now time.Time) error {
	mode, changed := p.gate.Check(now)
	if changed {
		p.logger.Info("season mode changed", zap.String("mode", string(mode)))
	}

	switch mode {
	case season.ModeInSeason:
		return p.tickInSeason(ctx, now)
	default:
		p.tickOffSeason(ctx, now)
		return nil
	}
}

func (p *Publisher) tickInSeason(ctx context.Context, now time.Time) error {
	if now.Sub(p.lastPublish) < p.cfg.IntervalSeconds {
		return nil
	}
	p.lastPublish = now

	if err := p.publishArtifact(ctx, now); err != nil {
		p.consecutiveFails++
		p.logger.Error("publish failed", zap.Error(err), zap.Int("consecutive_failures", p.consecutiveFails))
		if p.notify != nil {
			p.notify.NotifyPublishFailure(p.consecutiveFails, err)
		}
		if p.cfg.MaxConsecutiveFails > 0 && p.consecutiveFails >= p.cfg.MaxConsecutiveFails {
			return fmt.Errorf("publish failed %d times consecutively, exceeding configured limit: %w", p.consecutiveFails, err)
		}
		return nil
	}

	p.consecutiveFails = 0
	return nil
}

func (p *Publisher) publishArtifact(ctx context.Context, now time.Time) error {
	st := p.handle.Get()
	snap := st.Snapshot()
	defer snap.Release()

	end := now.Add(-time.Duration(p.cfg.ReplayDelaySeconds) * time.Second)
	start := end.Add(-time.Duration(p.cfg.MinutesOfData) * time.Minute)

	p.uploadCount++
	runAnalysis := p.uploadCount == 1 || p.uploadCount%segmentAnalysisEvery == 0

	measurements := make([]artifact.Measurement, 0, len(p.measurements))
	for _, m := range p.measurements {
		raw, err := snap.QuerySeries(m.Table, m.SeriesKey, start, end)
		if err != nil {
			return fmt.Errorf("querying %s: %w", m.Name, err)
		}

		out := artifact.Measurement{
			Name:          m.Name,
			Agg1m:         aggregate.Aggregate(raw, aggregate.Resolution1m.Window),
			Agg5m:         aggregate.Aggregate(raw, aggregate.Resolution5m.Window),
			Agg1h:         aggregate.Aggregate(raw, aggregate.Resolution1h.Window),
			ParseFailures: aggregate.CountParseFailures(raw),
		}

		if runAnalysis && m.Target != 0 {
			pts := make([]segment.Point, 0, len(raw))
			for _, r := range raw {
				v, ok := aggregate.ParseValue(r)
				if !ok {
					continue
				}
				pts = append(pts, segment.Point{T: r.Timestamp, V: v})
			}
			segs, pred, extrema := segment.Analyze(pts, segment.Config{
				MinR2:         p.segCfg.MinR2,
				MinPoints:     p.segCfg.MinPoints,
				JumpThreshold: p.segCfg.JumpThreshold,
			}, m.Target, now)
			out.Analysis = artifact.FromSegments(segs, pred, extrema)
		}

		measurements = append(measurements, out)
	}

	seasonCfg := p.gate.Cfg()
	doc := &artifact.Artifact{
		GeneratedAt: now.UTC(),
		Season: artifact.Season{
			Start:    seasonCfg.Start.Time(),
			End:      seasonCfg.End.Time(),
			IsActive: seasonCfg.IsActive(now),
		},
		ReplayDelaySeconds: p.cfg.ReplayDelaySeconds,
		MinutesOfData:      p.cfg.MinutesOfData,
		Measurements:       measurements,
	}

	data, err := doc.MarshalGzip()
	if err != nil {
		return fmt.Errorf("building artifact: %w", err)
	}

	if err := p.bucket.Upload(ctx, p.cfg.Key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("uploading artifact: %w", err)
	}

	p.logger.Debug("published artifact", zap.Int("bytes", len(data)), zap.Int("measurements", len(measurements)))
	return nil
}

func (p *Publisher) tickOffSeason(ctx context.Context, now time.Time) {
	if !p.shouldBackup(now) {
		return
	}
	if err := p.doBackup(ctx, now); err != nil {
		p.logger.Error("monthly backup failed", zap.Error(err))
		if p.notify != nil {
			p.notify.NotifyPublishFailure(0, err)
		}
		return
	}
	p.lastBackupMonth = now.Format("2006-01")
}

func (p *Publisher) shouldBackup(now time.Time) bool {
	if now.Day() != p.backupCfg.DayOfMonth || now.Hour() != p.backupCfg.Hour {
		return false
	}
	return now.Format("2006-01") != p.lastBackupMonth
}
