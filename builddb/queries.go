package builddb

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"lilac/pkg"
)

// successful reports whether a pkglog row counts as a successful build.
func successful(result string) bool {
	return result == "successful" || result == "staged"
}

// lastRecords returns up to n most recent pkglog rows for pkgbase that
// satisfy the filter, newest first. Callers hold a read transaction.
func lastRecords(tx *bolt.Tx, pkgbase string, n int, filter func(*PkgLogRecord) bool) []PkgLogRecord {
	parent := tx.Bucket([]byte(BucketPkgLog))
	if parent == nil {
		return nil
	}
	bucket := parent.Bucket([]byte(pkgbase))
	if bucket == nil {
		return nil
	}

	var out []PkgLogRecord
	c := bucket.Cursor()
	for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
		var rec PkgLogRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue
		}
		if filter == nil || filter(&rec) {
			out = append(out, rec)
		}
	}
	return out
}

// GetPkgsLastRusage returns the resource usage of the last successful
// build of each package. Packages with no successful history are absent
// from the result.
func (db *DB) GetPkgsLastRusage(pkgs []string) (map[string]RUsage, error) {
	out := make(map[string]RUsage, len(pkgs))
	err := db.db.View(func(tx *bolt.Tx) error {
		for _, pkgbase := range pkgs {
			recs := lastRecords(tx, pkgbase, 1, func(r *PkgLogRecord) bool {
				return successful(r.Result)
			})
			if len(recs) == 0 {
				continue
			}
			out[pkgbase] = RUsage{
				CPUTime: recs[0].CPUTime,
				Memory:  recs[0].Memory,
				Elapsed: recs[0].Elapsed,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPkgsLastSuccessTimes returns the timestamp of the last successful
// build of each package. Packages never built successfully are absent.
func (db *DB) GetPkgsLastSuccessTimes(pkgs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(pkgs))
	err := db.db.View(func(tx *bolt.Tx) error {
		for _, pkgbase := range pkgs {
			recs := lastRecords(tx, pkgbase, 1, func(r *PkgLogRecord) bool {
				return successful(r.Result)
			})
			if len(recs) > 0 {
				out[pkgbase] = recs[0].TS
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUpdateOnBuildVers returns the (old, new) built-version pair of each
// update_on_build item: the versions of its last two successful builds,
// or (last, last) when only one exists. An item with no successful history
// yields ErrNoHistory, which callers report and skip.
func (db *DB) GetUpdateOnBuildVers(items []pkg.OnBuildSpec) ([]pkg.VersionPair, error) {
	out := make([]pkg.VersionPair, 0, len(items))
	err := db.db.View(func(tx *bolt.Tx) error {
		for _, item := range items {
			recs := lastRecords(tx, item.Pkgbase, 2, func(r *PkgLogRecord) bool {
				return successful(r.Result)
			})
			switch len(recs) {
			case 0:
				return &RecordError{Op: "update_on_build vers", Key: item.Pkgbase, Err: ErrNoHistory}
			case 1:
				out = append(out, pkg.VersionPair{Old: recs[0].PkgVersion, New: recs[0].PkgVersion})
			default:
				out = append(out, pkg.VersionPair{Old: recs[1].PkgVersion, New: recs[0].PkgVersion})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsLastBuildFailed reports whether the most recent build attempt of the
// package failed. Packages with no history report false.
func (db *DB) IsLastBuildFailed(pkgbase string) (bool, error) {
	var failed bool
	err := db.db.View(func(tx *bolt.Tx) error {
		recs := lastRecords(tx, pkgbase, 1, nil)
		failed = len(recs) > 0 && recs[0].Result == "failed"
		return nil
	})
	return failed, err
}
