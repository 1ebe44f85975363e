package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := New("lilac-test", dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info("hello %s", "world")
	l.Event("build succeeded", Fields{
		"pkgbase":     "vim",
		"nv_version":  "9.1",
		"pkg_version": "9.1-1",
		"elapsed":     12.5,
	})
	l.Close()

	human, err := os.ReadFile(filepath.Join(dir, "build.log"))
	if err != nil {
		t.Fatalf("build.log: %v", err)
	}
	if !strings.Contains(string(human), "hello world") {
		t.Fatalf("build.log = %q", human)
	}

	f, err := os.Open(filepath.Join(dir, "build-log.json"))
	if err != nil {
		t.Fatalf("build-log.json: %v", err)
	}
	defer f.Close()

	var entries []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		entries = append(entries, entry)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	for _, e := range entries {
		if e["logger_name"] != "lilac-test" {
			t.Fatalf("logger_name = %v", e["logger_name"])
		}
	}
	ev := entries[1]
	if ev["event"] != "build succeeded" || ev["pkgbase"] != "vim" {
		t.Fatalf("event entry = %v", ev)
	}
	if ev["nv_version"] != "9.1" || ev["pkg_version"] != "9.1-1" {
		t.Fatalf("event versions = %v", ev)
	}
}

func TestLoggerAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		l, err := New("x", dir)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		l.Warn("round %d", i)
		l.Close()
	}

	data, _ := os.ReadFile(filepath.Join(dir, "build.log"))
	if got := strings.Count(string(data), "round"); got != 2 {
		t.Fatalf("build.log holds %d rounds, want 2 (append mode)", got)
	}
}

func TestPackageLogger(t *testing.T) {
	dir := t.TempDir()
	pl, err := NewPackageLogger(dir, "vim")
	if err != nil {
		t.Fatalf("NewPackageLogger: %v", err)
	}

	pl.WriteHeader("9.1")
	if _, err := pl.Write([]byte("compiling...\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pl.WriteResult("successful", 90*time.Second)
	pl.Close()

	data, err := os.ReadFile(pl.Path())
	if err != nil {
		t.Fatalf("read %s: %v", pl.Path(), err)
	}
	content := string(data)
	for _, want := range []string{"building vim 9.1", "compiling...", "successful", "1m30s"} {
		if !strings.Contains(content, want) {
			t.Fatalf("log = %q, missing %q", content, want)
		}
	}
}
