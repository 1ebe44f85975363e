// Package cmd wires the lilac command-line interface.
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lilac/build"
	"lilac/builddb"
	"lilac/config"
	"lilac/log"
	"lilac/nvchecker"
	"lilac/repo"
	"lilac/stats"
	"lilac/util"
	"lilac/worker"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "lilac [pkgbase[:runner]...]",
	Short: "Build scheduler for a curated package repository",
	Long: `lilac decides which packages to rebuild, in what order, and how many
concurrently, from the dependency graph, upstream version changes, prior
build outcomes and live host resources.

With no arguments a full batch runs over all managed packages. With
arguments only the named packages plus their transitive dependencies are
considered; an optional :runner tag is forwarded to the build worker.`,
	Args:          cobra.ArbitraryArgs,
	RunE:          runBatch,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "/etc/lilac.ini", "configuration file")
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(cleanerCmd)
}

// Execute runs the CLI. Partial build failures are reported, not fatal;
// only setup errors produce a non-zero exit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return err
	}

	lock, err := util.AcquireLock(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	logger, err := log.New(cfg.Name, cfg.LogDir())
	if err != nil {
		return err
	}
	defer logger.Close()

	if err := util.BecomeSubreaper(); err != nil {
		logger.Warn("failed to become subreaper: %v", err)
	}

	repository, err := repo.Open(cfg.RepoDir, logger)
	if err != nil {
		return err
	}

	var db *builddb.DB
	if cfg.DatabaseEnabled() {
		db, err = builddb.OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	nv := &nvchecker.Runner{
		StateDir: cfg.StateDir,
		Proxy:    cfg.NvProxy,
		Logger:   logger,
	}
	w := &worker.CmdWorker{
		RepoDir: cfg.RepoDir,
		Command: cfg.BuildCommand,
	}
	if cfg.PacmanConf != "" {
		w.Env = append(w.Env, "LILAC_PACMAN_CONF="+cfg.PacmanConf)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch := build.NewBatch(cfg, logger,
		repository,
		repo.NewFileReporter(cfg.StateDir, logger),
		db, nv, w,
		stats.NewProcSampler(),
	)
	return batch.Run(ctx, args)
}
