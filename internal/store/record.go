package store

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Record is one row destined for the store: either an Observation
// (Source-A reading) or a DeviceEvent (Source-B sensor reading),
// distinguished only by Table.
//
// Payload carries an Observation's value as an opaque string: spec.md
// §9 requires payloads to stay untyped at the storage boundary, with
// numeric interpretation deferred to internal/aggregate. DeviceEvents
// have no Payload; their reading is already typed per spec.md §3's
// data model and lives in Temperature/Humidity/Battery/Signal instead.
type Record struct {
	Table     string
	SeriesKey string
	Timestamp time.Time
	QoS       byte
	Retained  bool

	Payload string

	Temperature *float64
	Humidity    *float64
	Battery     *int
	Signal      *int

	Raw json.RawMessage
}

// keyLen is fixed: 8-byte table hash, 8-byte series hash, 8-byte id.
// Sortable lexicographically, which also sorts by insertion order
// within a series since id is a monotonic sequence.
const keyLen = 24

func makeKey(table, seriesKey string, id uint64, _ time.Time) []byte {
	key := make([]byte, keyLen)
	binary.BigEndian.PutUint64(key[0:8], xxhash.Sum64String(table))
	binary.BigEndian.PutUint64(key[8:16], xxhash.Sum64String(seriesKey))
	binary.BigEndian.PutUint64(key[16:24], id)
	return key
}

func tablePrefix(table string) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(table))
	return prefix
}

// encodedRecord is the on-disk value shape. Timestamp and SeriesKey
// are duplicated into the value since the key only carries hashes, the
// same limitation the teacher's badger.go notes and works around by
// keeping everything needed for the Query/Stats pass in the value.
type encodedRecord struct {
	SeriesKey   string          `json:"s"`
	Timestamp   time.Time       `json:"t"`
	QoS         byte            `json:"q,omitempty"`
	Retained    bool            `json:"r,omitempty"`
	Payload     string          `json:"p,omitempty"`
	Temperature *float64        `json:"temp,omitempty"`
	Humidity    *float64        `json:"hum,omitempty"`
	Battery     *int            `json:"bat,omitempty"`
	Signal      *int            `json:"sig,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

func encodeRecord(r Record) ([]byte, error) {
	return json.Marshal(encodedRecord{
		SeriesKey:   r.SeriesKey,
		Timestamp:   r.Timestamp,
		QoS:         r.QoS,
		Retained:    r.Retained,
		Payload:     r.Payload,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Battery:     r.Battery,
		Signal:      r.Signal,
		Raw:         r.Raw,
	})
}

func decodeRecord(table string, data []byte) (Record, error) {
	var e encodedRecord
	if err := json.Unmarshal(data, &e); err != nil {
		return Record{}, err
	}
	return Record{
		Table:       table,
		SeriesKey:   e.SeriesKey,
		Timestamp:   e.Timestamp,
		QoS:         e.QoS,
		Retained:    e.Retained,
		Payload:     e.Payload,
		Temperature: e.Temperature,
		Humidity:    e.Humidity,
		Battery:     e.Battery,
		Signal:      e.Signal,
		Raw:         e.Raw,
	}, nil
}
