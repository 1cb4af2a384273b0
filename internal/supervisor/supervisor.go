// Package supervisor is Data Sleigh's composition root: it wires
// config, storage, ingest, publish, and health monitoring together and
// owns the process's startup/shutdown sequencing. Grounded on the
// teacher's `cmd/server/main.go` (cancel-context-first, bounded
// WaitGroup wait, http.Server.Shutdown with a hard timeout).
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/config"
	"github.com/xmastree/datasleigh/internal/health"
	"github.com/xmastree/datasleigh/internal/healthapi"
	"github.com/xmastree/datasleigh/internal/ingest"
	"github.com/xmastree/datasleigh/internal/publish"
	"github.com/xmastree/datasleigh/internal/store"
)

// shutdownTimeout bounds how long Run waits for background goroutines
// (subscribers, buffer drain, publisher, health monitor) to stop after
// context cancellation, matching the teacher's belt-and-suspenders
// wg.Wait()-with-timeout idiom.
const shutdownTimeout = 30 * time.Second

// httpShutdownTimeout bounds the health API's own graceful shutdown,
// separate from the overall shutdownTimeout since it must complete
// before the outer WaitGroup wait even starts.
const httpShutdownTimeout = 10 * time.Second

// Supervisor owns every long-lived component's lifecycle.
type Supervisor struct {
	cfg    *config.Config
	logger *zap.Logger

	handle  *store.Handle
	buffer  *ingest.Buffer
	sourceA *ingest.SourceA
	sourceB *ingest.SourceB
	pub     *publish.Publisher
	monitor *health.Monitor
	httpSrv *http.Server
}

// New assembles every component from cfg but starts nothing.
func New(cfg *config.Config, logger *zap.Logger) (*Supervisor, error) {
	st, err := store.Open(store.Config{
		Path:         cfg.Store.Path,
		MaxStorageMB: cfg.Store.MaxStorageMB,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	handle := store.NewHandle(st)

	var mailer health.Mailer
	if cfg.Alerting.SMTPHost != "" {
		mailer = health.NewSMTPMailer(cfg.Alerting)
	}
	monitor := health.NewMonitor(cfg.Alerting, handle, mailer, logger)

	buffer := ingest.New(ingest.BufferConfig{
		BatchSize:     cfg.Store.BatchSize,
		FlushInterval: cfg.Store.FlushInterval,
	}, handle, monitor, logger)

	sourceA := ingest.NewSourceA(cfg.SourceA, buffer, logger)

	var sourceB *ingest.SourceB
	if cfg.SourceB.Enabled {
		sourceB = ingest.NewSourceB(cfg.SourceB, buffer, logger)
	}

	bucket, err := publish.NewBucket(cfg.Publish)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("building object store client: %w", err)
	}

	measurements := measurementsFromConfig(cfg)
	pub := publish.New(cfg.Publish, cfg.Backup, cfg.Season, cfg.Segment, measurements, handle, buffer, bucket, monitor, logger)

	api := healthapi.New(*cfg, handle, buffer, logger)
	httpSrv := &http.Server{
		Addr:    "127.0.0.1:9100",
		Handler: api.Handler(),
	}

	return &Supervisor{
		cfg:     cfg,
		logger:  logger,
		handle:  handle,
		buffer:  buffer,
		sourceA: sourceA,
		sourceB: sourceB,
		pub:     pub,
		monitor: monitor,
		httpSrv: httpSrv,
	}, nil
}

// measurementsFromConfig builds the Publisher's measurement list from
// Source A's configured topics and Source B's device IDs. Every
// measurement shares cfg.Segment.EmptyThreshold as its segmenter
// target (spec.md §9's configurable empty/threshold value), since the
// configuration surface has no per-measurement target field.
func measurementsFromConfig(cfg *config.Config) []publish.Measurement {
	target := cfg.Segment.EmptyThreshold
	var out []publish.Measurement
	for _, t := range cfg.SourceA.Topics {
		out = append(out, publish.Measurement{Table: t.Table, SeriesKey: t.Pattern, Name: t.Description, Target: target})
	}
	if cfg.SourceB.Enabled {
		if cfg.SourceB.AirSensorDeviceID != "" {
			out = append(out, publish.Measurement{Table: cfg.SourceB.Table, SeriesKey: cfg.SourceB.AirSensorDeviceID, Name: "air", Target: target})
		}
		if cfg.SourceB.WaterSensorDeviceID != "" {
			out = append(out, publish.Measurement{Table: cfg.SourceB.Table, SeriesKey: cfg.SourceB.WaterSensorDeviceID, Name: "water", Target: target})
		}
	}
	return out
}

// Run starts every component and blocks until ctx is cancelled, then
// performs an ordered graceful shutdown. Cancelling ctx (the signal
// handler installed by cmd/datasleigh) is the only normal way to stop
// a Supervisor.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	s.monitor.NotifyStartup(*s.cfg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.buffer.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sourceA.Run(runCtx)
	}()

	if s.sourceB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sourceB.Run(runCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.pub.Run(runCtx); err != nil {
			s.logger.Error("publisher exited with fatal error", zap.Error(err))
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.monitor.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("health API listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health API server failed", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, stopping background tasks")
	case <-runCtx.Done():
		s.logger.Info("a background task triggered shutdown, stopping remaining tasks")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("health API shutdown warning", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all background tasks stopped cleanly")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("some background tasks did not stop in time, forcing exit")
	}

	if err := s.handle.Get().Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
