package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"lilac/cleaner"
	"lilac/config"
	"lilac/log"
	"lilac/repo"
)

var cleanerForce bool

var cleanerCmd = &cobra.Command{
	Use:   "cleaner [DIR]",
	Short: "Prune non-tracked files from package directories",
	Long: `Removes stale files from per-package directories. Git-managed files,
recently modified files, logs and built package artifacts are kept.
Without -f only prints what would be removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCleaner,
}

func init() {
	cleanerCmd.Flags().BoolVarP(&cleanerForce, "force", "f", false, "actually delete instead of dry-run")
}

func runCleaner(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger := log.StdoutLogger{}
	repository, err := repo.Open(cfg.RepoDir, logger)
	if err != nil {
		return err
	}
	files, err := repository.ManagedFiles()
	if err != nil {
		return err
	}

	// Group tracked paths by their package directory.
	trackedByDir := make(map[string]map[string]bool)
	for path := range files {
		dir, rest, found := strings.Cut(path, "/")
		if !found {
			continue
		}
		if trackedByDir[dir] == nil {
			trackedByDir[dir] = make(map[string]bool)
		}
		trackedByDir[dir][rest] = true
	}

	c := &cleaner.Cleaner{Force: cleanerForce, Logger: logger, Out: os.Stdout}
	if len(args) == 1 {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(cfg.RepoDir, dir)
		if err != nil {
			return err
		}
		tracked := trackedByDir[rel]
		if tracked == nil {
			tracked = make(map[string]bool)
		}
		return c.CleanDir(dir, tracked)
	}
	return c.CleanRepo(cfg.RepoDir, trackedByDir)
}
