package build

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lilac/builddb"
	"lilac/config"
	"lilac/log"
	"lilac/pkg"
	"lilac/reason"
	"lilac/stats"
	"lilac/util"
	"lilac/worker"
)

// RepoManager is the package repository collaborator: git operations over
// the managed tree.
type RepoManager interface {
	EnsureMainBranch() error
	ResetHard() error
	Pull() error
	Push() error
	Head() (string, error)
	ChangedPackages(oldCommit, newCommit string) ([]string, error)
	PkgrelChanged(oldCommit, newCommit, pkgbase string) (bool, error)
}

// Reporter dispatches per-package error reports to maintainers.
type Reporter interface {
	SendError(pkgbase, subject, msg string)
}

// NvRunner is the upstream version checker collaborator.
type NvRunner interface {
	// Check produces per-package version results for the given set and
	// the set of packages whose check failed (state unknown).
	Check(ctx context.Context, pkgs map[string]*pkg.LilacInfo) (pkg.NvData, map[string]bool, error)

	// Take acknowledges the new version of a package so it is not
	// reported as changed again.
	Take(pkgbase string, info pkg.NvInfo) error
}

// Target is one command-line target, optionally tagged with a runner.
type Target struct {
	Pkgbase string
	Runner  string
}

// ParseTarget splits a "pkgbase[:runner]" argument.
func ParseTarget(arg string) Target {
	if i := strings.IndexByte(arg, ':'); i >= 0 {
		return Target{Pkgbase: arg[:i], Runner: arg[i+1:]}
	}
	return Target{Pkgbase: arg}
}

// Batch owns all mutable scheduling state for one lilac invocation. All
// maps are touched only by the driver goroutine; workers communicate
// through channels.
type Batch struct {
	cfg      *config.Config
	logger   *log.Logger
	repo     RepoManager
	reporter Reporter
	db       *builddb.DB
	nv       NvRunner
	worker   worker.Worker
	sampler  stats.Sampler
	resolver pkg.Resolver

	managed     map[string]*pkg.LilacInfo
	depmap      pkg.DepMap
	buildDepmap pkg.DepMap

	nvdata    pkg.NvData
	nvUnknown map[string]bool

	buildReasons map[string][]reason.BuildReason
	runners      map[string]string // pkgbase -> cmdline runner tag

	failed      map[string][]string // pkgbase -> missing deps; empty slice when unrelated to deps
	built       map[string]bool
	attemptedNv map[string]bool

	depBuilding map[string]map[string]bool
	revdep      map[string]map[string]bool
	sorter      *BuildSorter

	state   *State
	logdir  string
	pkglogs map[string]*log.PackageLogger
	now     func() time.Time
}

// NewBatch wires a batch from its collaborators. db may be nil when the
// database is not configured.
func NewBatch(
	cfg *config.Config,
	logger *log.Logger,
	repo RepoManager,
	reporter Reporter,
	db *builddb.DB,
	nv NvRunner,
	w worker.Worker,
	sampler stats.Sampler,
) *Batch {
	return &Batch{
		cfg:          cfg,
		logger:       logger,
		repo:         repo,
		reporter:     reporter,
		db:           db,
		nv:           nv,
		worker:       w,
		sampler:      sampler,
		resolver:     pkg.DestdirResolver{DestDir: cfg.DestDir},
		buildReasons: make(map[string][]reason.BuildReason),
		runners:      make(map[string]string),
		failed:       make(map[string][]string),
		built:        make(map[string]bool),
		attemptedNv:  make(map[string]bool),
		pkglogs:      make(map[string]*log.PackageLogger),
		now:          time.Now,
	}
}

// Run executes one full batch. Only setup failures return an error;
// per-package failures are reported and recovered so the batch continues.
func (b *Batch) Run(ctx context.Context, args []string) error {
	if err := b.repo.EnsureMainBranch(); err != nil {
		return err
	}
	if err := b.repo.ResetHard(); err != nil {
		return err
	}
	if err := b.repo.Pull(); err != nil {
		return err
	}

	state, err := LoadState(b.cfg.StorePath())
	if err != nil {
		return err
	}
	b.state = state

	if err := util.RunCommands(b.cfg.RepoDir, b.cfg.PreRun); err != nil {
		return fmt.Errorf("prerun command failed: %w", err)
	}

	managed, failedLoads, err := pkg.LoadManaged(ctx, b.cfg.RepoDir, b.logger)
	if err != nil {
		return err
	}
	b.managed = managed
	for pkgbase, missing := range failedLoads {
		b.failed[pkgbase] = missing
	}

	b.depmap, b.buildDepmap = pkg.BuildDepMaps(managed, b.logger)

	head, err := b.repo.Head()
	if err != nil {
		return err
	}

	targets := make([]Target, 0, len(args))
	for _, arg := range args {
		targets = append(targets, ParseTarget(arg))
	}

	care := b.careSet(targets)
	nvdata, unknown, err := b.nv.Check(ctx, care)
	if err != nil {
		return fmt.Errorf("version check failed: %w", err)
	}
	b.nvdata = nvdata
	b.nvUnknown = unknown

	changed, err := b.changedPackages(head)
	if err != nil {
		return err
	}

	b.assignReasons(targets, changed, head)

	b.logdir = filepath.Join(b.cfg.LogDir(), b.now().UTC().Format("2006-01-02T15:04:05"))

	defer b.finalize(head)

	b.prepareGraph()
	b.writeCurrent()
	if b.db.Enabled() {
		if err := b.db.AppendBatchEvent("start", b.logdir); err != nil {
			b.logger.Warn("failed to record batch start: %v", err)
		}
		defer func() {
			if err := b.db.AppendBatchEvent("stop", ""); err != nil {
				b.logger.Warn("failed to record batch stop: %v", err)
			}
		}()
	}

	b.runScheduler(ctx)
	return nil
}

// careSet returns the packages whose versions this batch cares about: the
// full managed set, or the command-line targets plus their transitive
// runtime dependencies.
func (b *Batch) careSet(targets []Target) map[string]*pkg.LilacInfo {
	if len(targets) == 0 {
		return b.managed
	}
	care := make(map[string]*pkg.LilacInfo)
	var walk func(pkgbase string)
	walk = func(pkgbase string) {
		info, ok := b.managed[pkgbase]
		if !ok || care[pkgbase] != nil {
			return
		}
		care[pkgbase] = info
		for _, d := range b.depmap[pkgbase] {
			walk(d.Pkgbase)
		}
	}
	for _, t := range targets {
		walk(t.Pkgbase)
	}
	return care
}

// changedPackages computes the managed packages whose directories changed
// since the last successful batch. A missing last commit means a first
// run; nothing is considered changed.
func (b *Batch) changedPackages(head string) (map[string]bool, error) {
	changed := make(map[string]bool)
	if b.state.LastCommit == "" || b.state.LastCommit == head {
		return changed, nil
	}
	dirs, err := b.repo.ChangedPackages(b.state.LastCommit, head)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if _, ok := b.managed[dir]; ok {
			changed[dir] = true
		}
	}
	return changed, nil
}

// prepareGraph builds the dependency graph and the sorter from the
// assigned reasons.
func (b *Batch) prepareGraph() {
	lastFailed := func(pkgbase string) bool {
		if !b.db.Enabled() {
			return false
		}
		failed, err := b.db.IsLastBuildFailed(pkgbase)
		if err != nil {
			b.logger.Warn("is_last_build_failed(%s): %v", pkgbase, err)
			return false
		}
		return failed
	}

	b.depBuilding, b.revdep = BuildGraph(
		b.depmap, b.buildReasons, b.managed, b.resolver, lastFailed, b.reporter, b.logger)

	hasReason := func(pkgbase string) bool {
		_, ok := b.buildReasons[pkgbase]
		return ok
	}
	priority := func(pkgbase string) int {
		return BuildingPriority(pkgbase, b.revdep, b.buildReasons)
	}
	b.sorter = NewBuildSorter(b.depBuilding, hasReason, priority)
}

// writeCurrent rewrites the database's current-batch package list.
func (b *Batch) writeCurrent() {
	if !b.db.Enabled() {
		return
	}
	pkgbases := make([]string, 0, len(b.buildReasons))
	for pkgbase := range b.buildReasons {
		pkgbases = append(pkgbases, pkgbase)
	}
	sort.Strings(pkgbases)

	rows := make([]builddb.PkgCurrent, 0, len(pkgbases))
	for i, pkgbase := range pkgbases {
		rows = append(rows, builddb.PkgCurrent{
			Pkgbase:      pkgbase,
			Index:        i,
			Status:       builddb.StatusPending,
			BuildReasons: displayReasons(b.buildReasons[pkgbase]),
		})
	}
	if err := b.db.ReplaceCurrent(rows); err != nil {
		b.logger.Warn("failed to write pkgcurrent: %v", err)
	}
}

// finalize persists batch state. It runs on normal completion, on error,
// and after an interrupt, reflecting whatever work completed.
func (b *Batch) finalize(head string) {
	b.state.LastCommit = head
	if b.state.Failed == nil {
		b.state.Failed = make(map[string]FailedInfo)
	}
	for pkgbase, missing := range b.failed {
		b.state.Failed[pkgbase] = FailedInfo{Missing: missing}
	}
	for pkgbase := range b.state.Failed {
		if _, ok := b.managed[pkgbase]; !ok || b.built[pkgbase] {
			delete(b.state.Failed, pkgbase)
		}
	}
	if err := SaveState(b.cfg.StorePath(), b.state); err != nil {
		b.logger.Error("failed to persist state: %v", err)
	}

	b.acknowledgeVersions()

	if err := b.repo.ResetHard(); err != nil {
		b.logger.Error("git reset failed: %v", err)
	}
	if b.cfg.GitPush {
		if err := b.repo.Push(); err != nil {
			b.logger.Error("git push failed: %v", err)
		}
	}
	if err := util.RunCommands(b.cfg.RepoDir, b.cfg.PostRun); err != nil {
		b.logger.Error("postrun command failed: %v", err)
	}
}

// acknowledgeVersions tells the version checker which new versions have
// been handled. With rebuild_failed_pkgs, successes acknowledge their
// versions so failures keep being retried; otherwise every package that
// was attempted because of a version change acknowledges, successes and
// failures alike, so broken updates are not retried forever. Packages
// never attempted keep their pending state.
func (b *Batch) acknowledgeVersions() {
	take := func(pkgbase string) {
		info, ok := b.nvdata[pkgbase]
		if !ok || !info.Changed() {
			return
		}
		if err := b.nv.Take(pkgbase, info); err != nil {
			b.logger.Warn("nvtake %s: %v", pkgbase, err)
		}
	}

	if b.cfg.RebuildFailedPkgs {
		if len(b.built) == 0 {
			return
		}
		for pkgbase := range b.built {
			take(pkgbase)
		}
		return
	}
	for pkgbase := range b.attemptedNv {
		take(pkgbase)
	}
}

// finishPkg reports a package done to the sorter and the database.
func (b *Batch) finishPkg(pkgbase string) {
	b.sorter.Done(pkgbase)
	if b.db.Enabled() {
		if err := b.db.UpdateCurrentStatus(pkgbase, builddb.StatusDone); err != nil {
			b.logger.Debug("pkgcurrent status %s: %v", pkgbase, err)
		}
	}
}

func displayReasons(rs []reason.BuildReason) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Display())
	}
	return out
}
