// Package builddb persists build history and live batch status using bbolt.
//
// Three buckets are maintained:
//
//   - pkgcurrent: the current batch's package list, rewritten every batch.
//     Key is the big-endian scheduling index; value is a PkgCurrent JSON.
//   - pkglog: one sub-bucket per pkgbase holding append-only PkgLogRecord
//     JSON rows keyed by sequence number.
//   - batch: append-only BatchEvent JSON rows (start/stop per batch).
//
// The database is optional: callers hold a nil *DB when it is not
// configured and must gate queries on Enabled().
package builddb

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names.
const (
	BucketPkgCurrent = "pkgcurrent"
	BucketPkgLog     = "pkglog"
	BucketBatch      = "batch"
)

// Status values for pkgcurrent rows.
const (
	StatusPending  = "pending"
	StatusBuilding = "building"
	StatusDone     = "done"
)

// DB wraps a bbolt database for build tracking.
type DB struct {
	db   *bolt.DB
	path string
}

// PkgCurrent is one row of the current batch's package list.
type PkgCurrent struct {
	Pkgbase      string   `json:"pkgbase"`
	Index        int      `json:"index"`
	Status       string   `json:"status"`
	BuildReasons []string `json:"build_reasons"`
}

// PkgLogRecord is one finished build attempt.
type PkgLogRecord struct {
	UUID         string        `json:"uuid"`
	Pkgbase      string        `json:"pkgbase"`
	NvVersion    string        `json:"nv_version"`
	PkgVersion   string        `json:"pkg_version"`
	Elapsed      time.Duration `json:"elapsed"`
	Result       string        `json:"result"`
	CPUTime      time.Duration `json:"cputime"`
	Memory       int64         `json:"memory"`
	Msg          string        `json:"msg"`
	BuildReasons []string      `json:"build_reasons"`
	Maintainers  []string      `json:"maintainers"`
	TS           time.Time     `json:"ts"`
}

// BatchEvent marks the start or stop of a batch.
type BatchEvent struct {
	Event  string    `json:"event"` // "start" | "stop"
	LogDir string    `json:"logdir,omitempty"`
	TS     time.Time `json:"ts"`
}

// RUsage is the historical resource usage of a package's last successful
// build.
type RUsage struct {
	CPUTime time.Duration `json:"cputime"`
	Memory  int64         `json:"memory"`
	Elapsed time.Duration `json:"elapsed"`
}

// CPUIntensity returns cputime/elapsed, the tie-break metric used by the
// admission picker. Returns 1.0 when elapsed is unknown.
func (r RUsage) CPUIntensity() float64 {
	if r.Elapsed <= 0 {
		return 1.0
	}
	return float64(r.CPUTime) / float64(r.Elapsed)
}

// OpenDB opens or creates the database at path and initializes the
// required buckets.
func OpenDB(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{BucketPkgCurrent, BucketPkgLog, BucketBatch} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return &DatabaseError{Op: "create bucket", Bucket: name, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &DB{db: bdb, path: path}, nil
}

// Enabled reports whether the database is configured. Safe on a nil
// receiver so callers can hold a nil *DB when no dburl is set.
func (db *DB) Enabled() bool {
	return db != nil && db.db != nil
}

// Close closes the database. Safe to call multiple times and on nil.
func (db *DB) Close() error {
	if db == nil || db.db == nil {
		return nil
	}
	return db.db.Close()
}

// ReplaceCurrent rewrites the pkgcurrent bucket with the given rows.
func (db *DB) ReplaceCurrent(rows []PkgCurrent) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(BucketPkgCurrent)); err != nil && err != bolt.ErrBucketNotFound {
			return &DatabaseError{Op: "delete bucket", Bucket: BucketPkgCurrent, Err: err}
		}
		bucket, err := tx.CreateBucket([]byte(BucketPkgCurrent))
		if err != nil {
			return &DatabaseError{Op: "create bucket", Bucket: BucketPkgCurrent, Err: err}
		}
		for _, row := range rows {
			data, err := json.Marshal(row)
			if err != nil {
				return &RecordError{Op: "marshal", Key: row.Pkgbase, Err: err}
			}
			if err := bucket.Put(indexKey(row.Index), data); err != nil {
				return &RecordError{Op: "put", Key: row.Pkgbase, Err: err}
			}
		}
		return nil
	})
}

// UpdateCurrentStatus sets the status of one pkgcurrent row.
func (db *DB) UpdateCurrentStatus(pkgbase, status string) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketPkgCurrent))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPkgCurrent, Err: ErrBucketNotFound}
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row PkgCurrent
			if err := json.Unmarshal(v, &row); err != nil {
				continue
			}
			if row.Pkgbase != pkgbase {
				continue
			}
			row.Status = status
			data, err := json.Marshal(row)
			if err != nil {
				return &RecordError{Op: "marshal", Key: pkgbase, Err: err}
			}
			return bucket.Put(append([]byte(nil), k...), data)
		}
		return &RecordError{Op: "update status", Key: pkgbase, Err: ErrRecordNotFound}
	})
}

// CurrentRows returns the pkgcurrent rows in scheduling-index order.
func (db *DB) CurrentRows() ([]PkgCurrent, error) {
	var rows []PkgCurrent
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketPkgCurrent))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPkgCurrent, Err: ErrBucketNotFound}
		}
		return bucket.ForEach(func(_, v []byte) error {
			var row PkgCurrent
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AppendPkgLog appends one build attempt to the package's history.
func (db *DB) AppendPkgLog(rec *PkgLogRecord) error {
	if rec.Pkgbase == "" {
		return &ValidationError{Field: "record.Pkgbase", Err: ErrEmptyKey}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal", Key: rec.Pkgbase, Err: err}
	}
	return db.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket([]byte(BucketPkgLog))
		if parent == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketPkgLog, Err: ErrBucketNotFound}
		}
		bucket, err := parent.CreateBucketIfNotExists([]byte(rec.Pkgbase))
		if err != nil {
			return &DatabaseError{Op: "create bucket", Bucket: rec.Pkgbase, Err: err}
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return &DatabaseError{Op: "next sequence", Bucket: rec.Pkgbase, Err: err}
		}
		return bucket.Put(indexKey(int(seq)), data)
	})
}

// AppendBatchEvent records a batch start/stop row.
func (db *DB) AppendBatchEvent(event, logdir string) error {
	rec := BatchEvent{Event: event, LogDir: logdir, TS: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal", Key: event, Err: err}
	}
	return db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketBatch))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketBatch, Err: ErrBucketNotFound}
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return &DatabaseError{Op: "next sequence", Bucket: BucketBatch, Err: err}
		}
		return bucket.Put(indexKey(int(seq)), data)
	})
}

// LastBatchEvent returns the most recent batch row, or ErrRecordNotFound.
func (db *DB) LastBatchEvent() (*BatchEvent, error) {
	var rec BatchEvent
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketBatch))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketBatch, Err: ErrBucketNotFound}
		}
		_, v := bucket.Cursor().Last()
		if v == nil {
			return &RecordError{Op: "get", Key: "batch", Err: ErrRecordNotFound}
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func indexKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}
