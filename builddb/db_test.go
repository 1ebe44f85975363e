package builddb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lilac/pkg"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func appendLog(t *testing.T, db *DB, pkgbase, version, result string, cputime, elapsed time.Duration, memory int64, ts time.Time) {
	t.Helper()
	err := db.AppendPkgLog(&PkgLogRecord{
		Pkgbase:    pkgbase,
		PkgVersion: version,
		Result:     result,
		CPUTime:    cputime,
		Elapsed:    elapsed,
		Memory:     memory,
		TS:         ts,
	})
	if err != nil {
		t.Fatalf("AppendPkgLog: %v", err)
	}
}

func TestEnabledOnNil(t *testing.T) {
	var db *DB
	if db.Enabled() {
		t.Fatal("nil DB reports enabled")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}

func TestPkgCurrentReplaceAndStatus(t *testing.T) {
	db := openTestDB(t)

	rows := []PkgCurrent{
		{Pkgbase: "a", Index: 0, Status: StatusPending, BuildReasons: []string{"pkgrel updated"}},
		{Pkgbase: "b", Index: 1, Status: StatusPending},
	}
	if err := db.ReplaceCurrent(rows); err != nil {
		t.Fatalf("ReplaceCurrent: %v", err)
	}

	if err := db.UpdateCurrentStatus("b", StatusBuilding); err != nil {
		t.Fatalf("UpdateCurrentStatus: %v", err)
	}

	got, err := db.CurrentRows()
	if err != nil {
		t.Fatalf("CurrentRows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %v, want 2", got)
	}
	if got[0].Pkgbase != "a" || got[1].Pkgbase != "b" {
		t.Fatalf("rows out of index order: %v", got)
	}
	if got[1].Status != StatusBuilding {
		t.Fatalf("b status = %s, want building", got[1].Status)
	}

	// The next batch rewrites the bucket entirely.
	if err := db.ReplaceCurrent([]PkgCurrent{{Pkgbase: "c", Index: 0, Status: StatusPending}}); err != nil {
		t.Fatalf("ReplaceCurrent: %v", err)
	}
	got, _ = db.CurrentRows()
	if len(got) != 1 || got[0].Pkgbase != "c" {
		t.Fatalf("rows after rewrite = %v, want only c", got)
	}
}

func TestUpdateCurrentStatusMissing(t *testing.T) {
	db := openTestDB(t)
	err := db.UpdateCurrentStatus("ghost", StatusDone)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestAppendPkgLogValidation(t *testing.T) {
	db := openTestDB(t)
	err := db.AppendPkgLog(&PkgLogRecord{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestGetPkgsLastRusage(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	appendLog(t, db, "a", "1", "successful", 2*time.Minute, 10*time.Minute, 4<<30, now.Add(-2*time.Hour))
	appendLog(t, db, "a", "2", "failed", time.Minute, time.Minute, 1<<30, now.Add(-time.Hour))
	appendLog(t, db, "b", "1", "staged", time.Minute, 2*time.Minute, 2<<30, now)

	ru, err := db.GetPkgsLastRusage([]string{"a", "b", "never-built"})
	if err != nil {
		t.Fatalf("GetPkgsLastRusage: %v", err)
	}
	// a's failed attempt does not count; the successful one does.
	if got := ru["a"]; got.Memory != 4<<30 || got.Elapsed != 10*time.Minute {
		t.Fatalf("rusage[a] = %+v", got)
	}
	if got := ru["b"]; got.CPUTime != time.Minute {
		t.Fatalf("rusage[b] = %+v", got)
	}
	if _, ok := ru["never-built"]; ok {
		t.Fatal("package without history must be absent")
	}
}

func TestCPUIntensity(t *testing.T) {
	r := RUsage{CPUTime: 5 * time.Minute, Elapsed: 10 * time.Minute}
	if got := r.CPUIntensity(); got != 0.5 {
		t.Fatalf("intensity = %v, want 0.5", got)
	}
	if got := (RUsage{}).CPUIntensity(); got != 1.0 {
		t.Fatalf("unknown intensity = %v, want 1.0", got)
	}
}

func TestGetPkgsLastSuccessTimes(t *testing.T) {
	db := openTestDB(t)
	old := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	appendLog(t, db, "a", "1", "successful", 0, 0, 0, old)
	appendLog(t, db, "a", "2", "failed", 0, 0, 0, time.Now())

	times, err := db.GetPkgsLastSuccessTimes([]string{"a", "b"})
	if err != nil {
		t.Fatalf("GetPkgsLastSuccessTimes: %v", err)
	}
	if !times["a"].Equal(old) {
		t.Fatalf("times[a] = %v, want %v", times["a"], old)
	}
	if _, ok := times["b"]; ok {
		t.Fatal("package without success must be absent")
	}
}

func TestGetUpdateOnBuildVers(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	appendLog(t, db, "two", "1", "successful", 0, 0, 0, now.Add(-2*time.Hour))
	appendLog(t, db, "two", "2", "successful", 0, 0, 0, now)
	appendLog(t, db, "one", "5", "successful", 0, 0, 0, now)

	vers, err := db.GetUpdateOnBuildVers([]pkg.OnBuildSpec{{Pkgbase: "two"}, {Pkgbase: "one"}})
	if err != nil {
		t.Fatalf("GetUpdateOnBuildVers: %v", err)
	}
	want := []pkg.VersionPair{{Old: "1", New: "2"}, {Old: "5", New: "5"}}
	for i := range want {
		if vers[i] != want[i] {
			t.Fatalf("vers = %v, want %v", vers, want)
		}
	}
}

func TestGetUpdateOnBuildVersNoHistory(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetUpdateOnBuildVers([]pkg.OnBuildSpec{{Pkgbase: "ghost"}})
	if !errors.Is(err, ErrNoHistory) {
		t.Fatalf("err = %v, want ErrNoHistory", err)
	}
}

func TestIsLastBuildFailed(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	appendLog(t, db, "a", "1", "successful", 0, 0, 0, now.Add(-time.Hour))
	appendLog(t, db, "a", "1", "failed", 0, 0, 0, now)
	appendLog(t, db, "b", "1", "failed", 0, 0, 0, now.Add(-time.Hour))
	appendLog(t, db, "b", "2", "successful", 0, 0, 0, now)

	for _, tt := range []struct {
		pkgbase string
		want    bool
	}{
		{"a", true},
		{"b", false},
		{"never", false},
	} {
		got, err := db.IsLastBuildFailed(tt.pkgbase)
		if err != nil {
			t.Fatalf("IsLastBuildFailed(%s): %v", tt.pkgbase, err)
		}
		if got != tt.want {
			t.Errorf("IsLastBuildFailed(%s) = %v, want %v", tt.pkgbase, got, tt.want)
		}
	}
}

func TestBatchEvents(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.LastBatchEvent(); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("empty batch bucket: err = %v, want ErrRecordNotFound", err)
	}

	if err := db.AppendBatchEvent("start", "/var/log/lilac/2026-08-02"); err != nil {
		t.Fatalf("AppendBatchEvent: %v", err)
	}
	if err := db.AppendBatchEvent("stop", ""); err != nil {
		t.Fatalf("AppendBatchEvent: %v", err)
	}

	ev, err := db.LastBatchEvent()
	if err != nil {
		t.Fatalf("LastBatchEvent: %v", err)
	}
	if ev.Event != "stop" {
		t.Fatalf("last event = %+v, want stop", ev)
	}
}
