package cleaner

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lilac/log"
)

// writeOld creates a file whose mtime is far outside the protect window.
func writeOld(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func newTestCleaner(force bool) (*Cleaner, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Cleaner{Force: force, Logger: log.NoOpLogger{}, Out: &buf}, &buf
}

func TestCleanerDryRun(t *testing.T) {
	dir := t.TempDir()
	writeOld(t, filepath.Join(dir, "stale.tmp"))

	c, out := newTestCleaner(false)
	if err := c.CleanDir(dir, map[string]bool{}); err != nil {
		t.Fatalf("CleanDir: %v", err)
	}

	if !strings.Contains(out.String(), "Would remove") {
		t.Fatalf("output = %q, want dry-run notice", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "stale.tmp")); err != nil {
		t.Fatal("dry run removed the file")
	}
}

func TestCleanerForceRemoves(t *testing.T) {
	dir := t.TempDir()
	writeOld(t, filepath.Join(dir, "stale.tmp"))

	c, _ := newTestCleaner(true)
	if err := c.CleanDir(dir, map[string]bool{}); err != nil {
		t.Fatalf("CleanDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale.tmp")); !os.IsNotExist(err) {
		t.Fatal("force run kept the file")
	}
}

func TestCleanerProtectsTracked(t *testing.T) {
	dir := t.TempDir()
	writeOld(t, filepath.Join(dir, "PKGBUILD"))
	writeOld(t, filepath.Join(dir, "patches", "fix.patch"))

	c, out := newTestCleaner(false)
	tracked := map[string]bool{"PKGBUILD": true, "patches/fix.patch": true}
	if err := c.CleanDir(dir, tracked); err != nil {
		t.Fatalf("CleanDir: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("output = %q, want nothing for tracked files", out.String())
	}
}

func TestCleanerProtectsArtifactsAndLogs(t *testing.T) {
	dir := t.TempDir()
	keep := []string{
		"vim-9.0-1-x86_64.pkg.tar.zst",
		"vim-9.0-1-x86_64.pkg.tar.zst.sig",
		"old-8.0-1-x86_64.pkg.tar.xz",
		"build.log",
		"__pycache__",
	}
	for _, name := range keep {
		writeOld(t, filepath.Join(dir, name))
	}

	c, out := newTestCleaner(false)
	if err := c.CleanDir(dir, map[string]bool{}); err != nil {
		t.Fatalf("CleanDir: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("output = %q, want protected names kept", out.String())
	}
}

func TestCleanerProtectsRecent(t *testing.T) {
	dir := t.TempDir()
	// Fresh file: inside the protect window relative to now (no
	// git-managed files present).
	if err := os.WriteFile(filepath.Join(dir, "fresh.tmp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	c, out := newTestCleaner(false)
	if err := c.CleanDir(dir, map[string]bool{}); err != nil {
		t.Fatalf("CleanDir: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("output = %q, want recent file kept", out.String())
	}
}

func TestCleanerWindowRelativeToTracked(t *testing.T) {
	dir := t.TempDir()
	// Tracked file ten days old; a stale file an hour older than it
	// stays within the window, one ten days older than it does not.
	writeOld(t, filepath.Join(dir, "PKGBUILD"))

	near := filepath.Join(dir, "near.tmp")
	writeOld(t, near)
	nearTime := time.Now().Add(-10*24*time.Hour - time.Hour)
	os.Chtimes(near, nearTime, nearTime)

	far := filepath.Join(dir, "far.tmp")
	writeOld(t, far)
	farTime := time.Now().Add(-20 * 24 * time.Hour)
	os.Chtimes(far, farTime, farTime)

	c, out := newTestCleaner(false)
	if err := c.CleanDir(dir, map[string]bool{"PKGBUILD": true}); err != nil {
		t.Fatalf("CleanDir: %v", err)
	}
	got := out.String()
	if strings.Contains(got, "near.tmp") {
		t.Fatalf("output = %q, near.tmp is within the window of the tracked file", got)
	}
	if !strings.Contains(got, "far.tmp") {
		t.Fatalf("output = %q, far.tmp must be a candidate", got)
	}
}

func TestCleanerVCSDirectories(t *testing.T) {
	dir := t.TempDir()

	fresh := filepath.Join(dir, "repo-fresh")
	writeOld(t, filepath.Join(fresh, ".git", "HEAD"))
	now := time.Now()
	os.Chtimes(fresh, now, now)

	lagging := filepath.Join(dir, "repo-lagging")
	writeOld(t, filepath.Join(lagging, ".git", "HEAD"))
	old := now.Add(-5 * 24 * time.Hour)
	os.Chtimes(lagging, old, old)

	c, out := newTestCleaner(false)
	if err := c.CleanDir(dir, map[string]bool{}); err != nil {
		t.Fatalf("CleanDir: %v", err)
	}
	got := out.String()
	if strings.Contains(got, "repo-fresh") {
		t.Fatalf("output = %q, newest VCS checkout must be kept", got)
	}
	if !strings.Contains(got, "repo-lagging") {
		t.Fatalf("output = %q, lagging VCS checkout must be a candidate", got)
	}
}
