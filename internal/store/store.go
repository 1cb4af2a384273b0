// Package store implements Data Sleigh's embedded single-writer
// analytical store on top of BadgerDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Sentinel errors matched with errors.Is by callers (supervisor,
// health monitor).
var (
	ErrStorageFull      = errors.New("store: disk usage at or above configured limit")
	ErrStorageCorrupted = errors.New("store: on-disk data is corrupted")
	ErrWriterHeld       = errors.New("store: append called while another append is in flight")
)

// Config holds the tuning knobs for the embedded store. Defaults are
// conservative enough to run on constrained hardware.
type Config struct {
	Path         string
	InMemory     bool
	MaxMemoryMB  int64
	MaxStorageMB int64
}

// Store wraps a single BadgerDB instance as Data Sleigh's only
// persistence layer. All writes go through AppendBatch; there is
// exactly one writer goroutine in the supervisor's design, so Store
// itself only guards against concurrent AppendBatch calls, not
// concurrent readers.
type Store struct {
	db       *badger.DB
	path     string
	maxBytes int64

	writing         atomic.Bool
	outstandingSnap atomic.Int64

	seqs map[string]*badger.Sequence
}

// Open creates or opens the on-disk store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	var memTableSize int64
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	} else {
		memTableSize = 16 * 1024 * 1024
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		if isCorruption(err) {
			return nil, fmt.Errorf("%w: %v", ErrStorageCorrupted, err)
		}
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &Store{
		db:       db,
		path:     cfg.Path,
		maxBytes: cfg.MaxStorageMB * 1024 * 1024,
		seqs:     make(map[string]*badger.Sequence),
	}, nil
}

func isCorruption(err error) bool {
	return errors.Is(err, badger.ErrTruncateNeeded)
}

// Close shuts the store down cleanly, releasing any open sequences.
func (s *Store) Close() error {
	for _, seq := range s.seqs {
		_ = seq.Release()
	}
	return s.db.Close()
}

// DiskUsageBytes walks the store directory and sums on-disk file
// sizes. Mirrors the teacher's calculateDirSize cache-then-recalculate
// idiom but without the cache, since AppendBatch already rate-limits
// how often this runs (once per batch at most).
func (s *Store) DiskUsageBytes() (int64, error) {
	var total int64
	err := filepath.Walk(s.path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking store directory: %w", err)
	}
	return total, nil
}

// checkCapacity returns ErrStorageFull if the configured ceiling is
// set and has been reached.
func (s *Store) checkCapacity() error {
	if s.maxBytes <= 0 {
		return nil
	}
	used, err := s.DiskUsageBytes()
	if err != nil {
		return err
	}
	if used >= s.maxBytes {
		return ErrStorageFull
	}
	return nil
}

// AppendBatch atomically writes every record in one BadgerDB
// WriteBatch. Per spec, this is the only write path into the store;
// the supervisor ensures a single goroutine ever calls it concurrently,
// but writing is still guarded defensively against misuse.
func (s *Store) AppendBatch(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	if !s.writing.CompareAndSwap(false, true) {
		return ErrWriterHeld
	}
	defer s.writing.Store(false)

	if err := s.checkCapacity(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	done := make(chan error, 1)
	go func() {
		for i, r := range records {
			if i%100 == 0 {
				select {
				case <-ctx.Done():
					done <- ctx.Err()
					return
				default:
				}
			}
			id, err := s.nextID(r.Table)
			if err != nil {
				done <- fmt.Errorf("allocating id: %w", err)
				return
			}
			key := makeKey(r.Table, r.SeriesKey, id, r.Timestamp)
			val, err := encodeRecord(r)
			if err != nil {
				done <- fmt.Errorf("encoding record: %w", err)
				return
			}
			if err := wb.Set(key, val); err != nil {
				done <- fmt.Errorf("staging record: %w", err)
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("append cancelled: %w", ctx.Err())
	}
}

func (s *Store) nextID(table string) (uint64, error) {
	seq, ok := s.seqs[table]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte("seq/"+table), 1000)
		if err != nil {
			return 0, err
		}
		s.seqs[table] = seq
	}
	return seq.Next()
}

// RunGC runs BadgerDB's value-log garbage collection. Returns
// badger.ErrNoRewrite (not an error condition) if nothing needed
// reclaiming.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats summarizes the store's current size on disk.
type Stats struct {
	SizeBytes       int64
	OutstandingSnap int64
}

// Stats returns a cheap, non-scanning summary of the store.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lsm, vlog := s.db.Size()
	return &Stats{
		SizeBytes:       lsm + vlog,
		OutstandingSnap: s.outstandingSnap.Load(),
	}, nil
}

// MaxStorageBytes exposes the configured ceiling so the health monitor
// can compute a free-space percentage without re-parsing config.
func (s *Store) MaxStorageBytes() int64 {
	return s.maxBytes
}

// Path returns the on-disk directory this store was opened with, used
// by the Publisher's monthly cold-backup rotation.
func (s *Store) Path() string {
	return s.path
}
