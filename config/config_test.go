package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lilac.ini")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
[repository]
repodir = /srv/repo
destdir = /srv/pkgs

[lilac]
name = archlinuxcn
max_concurrency = 4
git_push = true
rebuild_failed_pkgs = true
dburl = /var/lib/lilac/build.db
statedir = /var/lib/lilac

[misc]
pacman_conf = /etc/pacman.conf
prerun = repo-sync --fast
prerun = repo-verify
postrun = repo-publish

[envvars]
TZ = Asia/Shanghai
MAKEFLAGS = -j8

[nvchecker]
proxy = http://localhost:8000
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.RepoDir != "/srv/repo" || cfg.DestDir != "/srv/pkgs" {
		t.Fatalf("repository paths = %q %q", cfg.RepoDir, cfg.DestDir)
	}
	if cfg.Name != "archlinuxcn" {
		t.Fatalf("name = %q", cfg.Name)
	}
	if cfg.MaxConcurrency != 4 {
		t.Fatalf("max_concurrency = %d", cfg.MaxConcurrency)
	}
	if !cfg.GitPush || !cfg.RebuildFailedPkgs {
		t.Fatal("boolean flags not parsed")
	}
	if cfg.DBPath != "/var/lib/lilac/build.db" || !cfg.DatabaseEnabled() {
		t.Fatalf("dburl = %q", cfg.DBPath)
	}
	if len(cfg.PreRun) != 2 || cfg.PreRun[0][0] != "repo-sync" || cfg.PreRun[0][1] != "--fast" {
		t.Fatalf("prerun = %v", cfg.PreRun)
	}
	if len(cfg.PostRun) != 1 {
		t.Fatalf("postrun = %v", cfg.PostRun)
	}
	if cfg.EnvVars["TZ"] != "Asia/Shanghai" || cfg.EnvVars["MAKEFLAGS"] != "-j8" {
		t.Fatalf("envvars = %v", cfg.EnvVars)
	}
	if cfg.NvProxy != "http://localhost:8000" {
		t.Fatalf("proxy = %q", cfg.NvProxy)
	}
	if cfg.StorePath() != "/var/lib/lilac/store.json" {
		t.Fatalf("store path = %q", cfg.StorePath())
	}
	if cfg.LockPath() != "/var/lib/lilac/.lock" {
		t.Fatalf("lock path = %q", cfg.LockPath())
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
[repository]
repodir = /srv/repo
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxConcurrency != 1 {
		t.Fatalf("default max_concurrency = %d, want 1", cfg.MaxConcurrency)
	}
	if cfg.GitPush || cfg.RebuildFailedPkgs {
		t.Fatal("booleans must default to false")
	}
	if cfg.DatabaseEnabled() {
		t.Fatal("database must be disabled by default")
	}
	if cfg.DestDir != filepath.Join("/srv/repo", "pkgs") {
		t.Fatalf("default destdir = %q", cfg.DestDir)
	}
	if cfg.Name != "lilac" {
		t.Fatalf("default name = %q", cfg.Name)
	}
}

func TestLoadConfigMissingRepodir(t *testing.T) {
	path := writeConfig(t, "[lilac]\nname = x\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("missing repodir must be an error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.ini")); err == nil {
		t.Fatal("missing config file must be an error")
	}
}
