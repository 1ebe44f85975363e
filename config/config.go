// Package config loads the lilac configuration file. The file is INI with
// sections repository, lilac, misc, envvars and nvchecker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Config holds all lilac configuration.
type Config struct {
	// repository
	RepoDir string
	DestDir string

	// lilac
	Name              string
	MaxConcurrency    int
	GitPush           bool
	RebuildFailedPkgs bool
	DBPath            string
	StateDir          string

	// misc
	PacmanConf   string
	PreRun       [][]string
	PostRun      [][]string
	BuildCommand []string

	// envvars applied to the orchestrator process at startup
	EnvVars map[string]string

	// nvchecker
	NvProxy string
}

// LogDir returns the directory holding build.log and the per-batch logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.StateDir, "log")
}

// StorePath returns the location of the persisted batch state.
func (c *Config) StorePath() string {
	return filepath.Join(c.StateDir, "store.json")
}

// LockPath returns the location of the batch lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, ".lock")
}

// DatabaseEnabled reports whether the optional build database is configured.
func (c *Config) DatabaseEnabled() bool {
	return c.DBPath != ""
}

// LoadConfig reads the configuration file at path. Missing keys fall back
// to defaults; repository.repodir is required.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Name:           "lilac",
		MaxConcurrency: 1,
		BuildCommand:   []string{"lilac-build"},
		EnvVars:        make(map[string]string),
	}

	if home, err := os.UserHomeDir(); err == nil {
		cfg.StateDir = filepath.Join(home, ".lilac")
	} else {
		cfg.StateDir = "/var/lib/lilac"
	}

	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	repo := f.Section("repository")
	cfg.RepoDir = repo.Key("repodir").String()
	cfg.DestDir = repo.Key("destdir").String()

	li := f.Section("lilac")
	if v := li.Key("name").String(); v != "" {
		cfg.Name = v
	}
	if v, err := li.Key("max_concurrency").Int(); err == nil && v > 0 {
		cfg.MaxConcurrency = v
	}
	cfg.GitPush = li.Key("git_push").MustBool(false)
	cfg.RebuildFailedPkgs = li.Key("rebuild_failed_pkgs").MustBool(false)
	cfg.DBPath = li.Key("dburl").String()
	if v := li.Key("statedir").String(); v != "" {
		cfg.StateDir = v
	}

	misc := f.Section("misc")
	cfg.PacmanConf = misc.Key("pacman_conf").String()
	cfg.PreRun = parseCommands(misc.Key("prerun").ValueWithShadows())
	cfg.PostRun = parseCommands(misc.Key("postrun").ValueWithShadows())
	if v := misc.Key("build_command").String(); v != "" {
		cfg.BuildCommand = strings.Fields(v)
	}

	for _, key := range f.Section("envvars").Keys() {
		cfg.EnvVars[key.Name()] = key.String()
	}

	cfg.NvProxy = f.Section("nvchecker").Key("proxy").String()

	if cfg.RepoDir == "" {
		return nil, fmt.Errorf("config %s: repository.repodir is required", path)
	}
	if cfg.DestDir == "" {
		cfg.DestDir = filepath.Join(cfg.RepoDir, "pkgs")
	}

	return cfg, nil
}

// parseCommands splits shadowed key values into argv arrays, skipping
// empty lines.
func parseCommands(values []string) [][]string {
	var cmds [][]string
	for _, v := range values {
		fields := strings.Fields(v)
		if len(fields) > 0 {
			cmds = append(cmds, fields)
		}
	}
	return cmds
}

// ApplyEnv sets the configured environment overrides on the current
// process so child commands inherit them.
func (c *Config) ApplyEnv() {
	for k, v := range c.EnvVars {
		os.Setenv(k, v)
	}
}
