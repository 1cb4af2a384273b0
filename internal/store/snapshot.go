package store

import (
	"time"

	"github.com/dgraph-io/badger/v4"
)

// snapshotWarnAfter matches the teacher's StorageMonitor cache-duration
// idiom: a round number long enough to not fire on ordinary queries,
// short enough to catch a caller that forgot to Release.
const snapshotWarnAfter = 10 * time.Second

// Snapshot is a read-only view of the store at the instant it was
// taken. Callers must call Release when done. The store does not log
// held-too-long snapshots itself; callers can check HeldFor/IsStale.
type Snapshot struct {
	txn       *badger.Txn
	store     *Store
	openedAt  time.Time
	released  bool
}

// Snapshot opens a new read-only transaction.
func (s *Store) Snapshot() *Snapshot {
	s.outstandingSnap.Add(1)
	return &Snapshot{
		txn:      s.db.NewTransaction(false),
		store:    s,
		openedAt: time.Now(),
	}
}

// Release discards the underlying transaction. Safe to call multiple
// times.
func (sn *Snapshot) Release() {
	if sn.released {
		return
	}
	sn.released = true
	sn.txn.Discard()
	sn.store.outstandingSnap.Add(-1)
}

// HeldFor reports how long the snapshot has been open, for callers
// that want to warn on long-lived snapshots (see IsStale).
func (sn *Snapshot) HeldFor() time.Duration {
	return time.Since(sn.openedAt)
}

// IsStale reports whether the snapshot has outlived snapshotWarnAfter.
func (sn *Snapshot) IsStale() bool {
	return sn.HeldFor() > snapshotWarnAfter
}

// QueryRange returns every record in table within [start, end),
// ordered by table then series then insertion sequence (i.e. roughly
// but not strictly by time across series). Callers that need strict
// time order across series sort the result themselves; the Aggregator
// does this naturally since it buckets by timestamp anyway.
func (sn *Snapshot) QueryRange(table string, start, end time.Time) ([]Record, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = tablePrefix(table)
	it := sn.txn.NewIterator(opts)
	defer it.Close()

	var out []Record
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		var rec Record
		err := item.Value(func(val []byte) error {
			r, err := decodeRecord(table, val)
			if err != nil {
				return err
			}
			rec = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		if rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// QuerySeries is QueryRange scoped to a single series within a table,
// used by the segmenter which only ever needs one measurement's
// history at a time.
func (sn *Snapshot) QuerySeries(table, seriesKey string, start, end time.Time) ([]Record, error) {
	all, err := sn.QueryRange(table, start, end)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.SeriesKey == seriesKey {
			out = append(out, r)
		}
	}
	return out, nil
}
