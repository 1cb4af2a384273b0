package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/config"
	"github.com/xmastree/datasleigh/internal/store"
)

// checkInterval is how often the Monitor polls store size and free
// disk space.
const checkInterval = time.Minute

// Monitor polls the store for capacity problems and relays them (plus
// publish failures reported by the Publisher) to a Mailer, rate
// limited by a per-alert-kind cooldown so a sustained problem sends
// one email per cooldown window, not one per check.
type Monitor struct {
	cfg    config.Alerting
	handle *store.Handle
	mailer Mailer
	logger *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewMonitor builds a Monitor. A nil Mailer disables alerting entirely
// (checks still run and log, they just never send).
func NewMonitor(cfg config.Alerting, handle *store.Handle, mailer Mailer, logger *zap.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		handle:   handle,
		mailer:   mailer,
		logger:   logger.Named("health"),
		lastSent: make(map[string]time.Time),
	}
}

// Run polls on checkInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	st := m.handle.Get()
	stats, err := st.Stats(ctx)
	if err != nil {
		m.logger.Warn("stats check failed", zap.Error(err))
		return
	}

	sizeMB := stats.SizeBytes / (1 << 20)
	if m.cfg.DBSizeThresholdMB > 0 && sizeMB >= m.cfg.DBSizeThresholdMB {
		m.alert("db_size", fmt.Sprintf(
			"Data Sleigh's store is %d MB, at or above the configured threshold of %d MB.",
			sizeMB, m.cfg.DBSizeThresholdMB))
	}

	if m.cfg.FreeSpaceThresholdMB > 0 {
		if usage, err := st.DiskUsageBytes(); err == nil {
			maxBytes := st.MaxStorageBytes()
			if maxBytes > 0 {
				freeMB := (maxBytes - usage) / (1 << 20)
				if freeMB <= m.cfg.FreeSpaceThresholdMB {
					m.alert("free_space", fmt.Sprintf(
						"Data Sleigh's store has %d MB free, at or below the configured threshold of %d MB.",
						freeMB, m.cfg.FreeSpaceThresholdMB))
				}
			}
		}
	}
}

// NotifyPublishFailure implements publish.FailureNotifier.
func (m *Monitor) NotifyPublishFailure(consecutiveFailures int, err error) {
	m.alert("publish_failure", fmt.Sprintf(
		"Data Sleigh failed to publish the live artifact %d time(s) in a row: %v", consecutiveFailures, err))
}

// NotifyStorageFull implements ingest.ShedNotifier: the Ingest Buffer
// calls this the moment a flush enters shed mode, per spec.md §4.3's
// requirement that the Health Monitor is triggered immediately rather
// than caught only by the next poll.
func (m *Monitor) NotifyStorageFull(droppedBatchSize int) {
	m.alert("storage_full", fmt.Sprintf(
		"Data Sleigh's store rejected a write batch of %d record(s) as full; the ingest buffer has entered shed mode.", droppedBatchSize))
}

// NotifyStartup sends the one-shot startup notification spec.md §4.9
// names, carrying the redacted configuration for operator visibility.
func (m *Monitor) NotifyStartup(cfg config.Config) {
	m.send("Data Sleigh started", fmt.Sprintf("Data Sleigh is starting up with configuration:\n\n%+v", cfg.Redacted()))
}

func (m *Monitor) alert(kind, body string) {
	m.mu.Lock()
	last, ok := m.lastSent[kind]
	cooledDown := !ok || time.Since(last) >= m.cfg.CooldownHours
	if cooledDown {
		m.lastSent[kind] = time.Now()
	}
	m.mu.Unlock()

	if !cooledDown {
		return
	}
	m.logger.Warn("alert condition triggered", zap.String("kind", kind), zap.String("body", body))
	m.send(fmt.Sprintf("Data Sleigh alert: %s", kind), body)
}

func (m *Monitor) send(subject, body string) {
	if m.mailer == nil || m.cfg.EmailTo == "" {
		return
	}
	if err := m.mailer.Send(m.cfg.EmailTo, subject, body); err != nil {
		m.logger.Error("failed to send alert email", zap.Error(err))
	}
}
