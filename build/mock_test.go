package build

import (
	"context"
	"sync"
	"testing"
	"time"

	"lilac/config"
	"lilac/log"
	"lilac/pkg"
	"lilac/reason"
	"lilac/stats"
	"lilac/worker"
)

// fakeRepo is a canned RepoManager.
type fakeRepo struct {
	head       string
	changed    []string
	pkgrel     map[string]bool // pkgbase -> pkgrel changed
	pushErr    error
	pushCalled int
}

func (r *fakeRepo) EnsureMainBranch() error { return nil }
func (r *fakeRepo) ResetHard() error        { return nil }
func (r *fakeRepo) Pull() error             { return nil }
func (r *fakeRepo) Push() error             { r.pushCalled++; return r.pushErr }
func (r *fakeRepo) Head() (string, error)   { return r.head, nil }

func (r *fakeRepo) ChangedPackages(oldCommit, newCommit string) ([]string, error) {
	return r.changed, nil
}

func (r *fakeRepo) PkgrelChanged(oldCommit, newCommit, pkgbase string) (bool, error) {
	return r.pkgrel[pkgbase], nil
}

// fakeReporter records dispatched error reports.
type fakeReporter struct {
	mu      sync.Mutex
	reports []string // "pkgbase: subject"
}

func (r *fakeReporter) SendError(pkgbase, subject, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, pkgbase+": "+subject)
}

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

// fakeNv serves canned version data and records acknowledgements.
type fakeNv struct {
	data    pkg.NvData
	unknown map[string]bool
	taken   []string
}

func (n *fakeNv) Check(ctx context.Context, pkgs map[string]*pkg.LilacInfo) (pkg.NvData, map[string]bool, error) {
	return n.data, n.unknown, nil
}

func (n *fakeNv) Take(pkgbase string, info pkg.NvInfo) error {
	n.taken = append(n.taken, pkgbase)
	return nil
}

// fakeWorker builds instantly, recording submission order and tracking
// concurrency. Failures are configured per pkgbase.
type fakeWorker struct {
	mu          sync.Mutex
	order       []string
	results     map[string]worker.Result // default success
	versions    map[string]string
	delay       time.Duration
	running     int
	maxRunning  int
	onBuildVers map[string][]pkg.VersionPair
}

func (w *fakeWorker) Build(ctx context.Context, job worker.Job) (worker.Result, string) {
	w.mu.Lock()
	w.order = append(w.order, job.Pkg.Pkgbase)
	w.running++
	if w.running > w.maxRunning {
		w.maxRunning = w.running
	}
	if w.onBuildVers == nil {
		w.onBuildVers = make(map[string][]pkg.VersionPair)
	}
	w.onBuildVers[job.Pkg.Pkgbase] = job.Pkg.OnBuildVers
	res, ok := w.results[job.Pkg.Pkgbase]
	version := w.versions[job.Pkg.Pkgbase]
	w.mu.Unlock()

	if w.delay > 0 {
		time.Sleep(w.delay)
	}

	w.mu.Lock()
	w.running--
	w.mu.Unlock()

	if !ok {
		res = worker.Result{Outcome: worker.OutcomeSuccessful}
	}
	return res, version
}

func (w *fakeWorker) submissions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.order...)
}

// newTestBatch wires a Batch against fakes and temp directories.
func newTestBatch(t *testing.T, concurrency int) (*Batch, *fakeWorker, *fakeReporter) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Name:           "lilac-test",
		RepoDir:        dir,
		DestDir:        dir,
		StateDir:       dir,
		MaxConcurrency: concurrency,
	}

	logger, err := log.New(cfg.Name, cfg.LogDir())
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	w := &fakeWorker{}
	rep := &fakeReporter{}
	b := NewBatch(cfg, logger, &fakeRepo{head: "HEAD"}, rep, nil, &fakeNv{}, w, stats.FixedSampler{Ratio: 2.0, Avail: 64 << 30})
	b.state = &State{Failed: make(map[string]FailedInfo)}
	b.managed = make(map[string]*pkg.LilacInfo)
	b.nvdata = make(pkg.NvData)
	b.logdir = t.TempDir()
	return b, w, rep
}

// addManaged registers a managed package with runtime deps.
func addManaged(b *Batch, pkgbase string, deps ...string) {
	info := &pkg.LilacInfo{Pkgbase: pkgbase}
	for _, d := range deps {
		info.RepoDepends = append(info.RepoDepends, pkg.Dependency{Pkgbase: d, Dir: d})
	}
	b.managed[pkgbase] = info
	b.depmap, b.buildDepmap = pkg.BuildDepMaps(b.managed, b.logger)
}

// neverResolved treats every dependency as unsatisfied.
var neverResolved = pkg.ResolverFunc(func(pkg.Dependency) bool { return false })

// setReason seeds the build reasons of one package.
func setReason(b *Batch, pkgbase string, rs ...reason.BuildReason) {
	b.buildReasons[pkgbase] = rs
}
