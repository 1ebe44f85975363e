package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"lilac/builddb"
	"lilac/log"
	"lilac/pkg"
	"lilac/reason"
	"lilac/worker"
)

// buildMsg travels from a worker goroutine back to the driver.
type buildMsg struct {
	pkgbase string
	result  worker.Result
	version string
}

// runScheduler owns the worker pool and drives the admission picker to
// quiescence. It is the only goroutine touching the batch's maps; workers
// communicate exclusively over channels. On context cancellation the
// driver stops submitting and drains in-flight builds.
func (b *Batch) runScheduler(ctx context.Context) {
	if err := os.MkdirAll(b.logdir, 0755); err != nil {
		b.logger.Error("failed to create log directory %s: %v", b.logdir, err)
	}
	latest := filepath.Join(filepath.Dir(b.logdir), "latest")
	os.Remove(latest)
	if err := os.Symlink(filepath.Base(b.logdir), latest); err != nil {
		b.logger.Debug("failed to update latest symlink: %v", err)
	}

	jobs := make(chan worker.Job)
	results := make(chan buildMsg)

	var wg sync.WaitGroup
	for i := 0; i < b.cfg.MaxConcurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobs {
				job.WorkerID = workerID
				res, version := b.worker.Build(ctx, job)
				results <- buildMsg{pkgbase: job.Pkg.Pkgbase, result: res, version: version}
			}
		}(i)
	}

	running := make(map[string]bool)
	stopped := false

	for {
		if !stopped && ctx.Err() != nil {
			stopped = true
			b.logger.Warn("interrupted, waiting for %d running builds", len(running))
		}
		doneBefore := b.sorter.DoneCount()
		var picks []*pkg.PkgToBuild
		if !stopped {
			picks = b.pick(b.cfg.MaxConcurrency-len(running), running, len(running) == 0)
		}

		finished := 0
		for _, tb := range picks {
			if _, checked := b.nvdata[tb.Pkgbase]; !checked {
				// Pulled in by on_build but never version-checked.
				b.finishPkg(tb.Pkgbase)
				finished++
				continue
			}
			jobs <- b.makeJob(tb)
			running[tb.Pkgbase] = true
			b.attemptReasons(tb.Pkgbase)
			if b.db.Enabled() {
				if err := b.db.UpdateCurrentStatus(tb.Pkgbase, builddb.StatusBuilding); err != nil {
					b.logger.Debug("pkgcurrent status %s: %v", tb.Pkgbase, err)
				}
			}
		}
		if finished > 0 || b.sorter.DoneCount() != doneBefore {
			// Done calls, from skipped submissions or from buildability
			// checks inside the picker, may have readied more packages;
			// pick again before deciding to wait or terminate.
			continue
		}
		if len(running) == 0 {
			if stopped || len(picks) == 0 {
				break
			}
		}

		select {
		case msg := <-results:
			b.handleResult(msg)
			delete(running, msg.pkgbase)
		case <-ctx.Done():
			stopped = true
			if len(running) > 0 {
				msg := <-results
				b.handleResult(msg)
				delete(running, msg.pkgbase)
			}
		}
	}

	close(jobs)
	wg.Wait()
}

// attemptReasons records that a package was attempted because of a
// version change, feeding the acknowledgement policy at batch end.
func (b *Batch) attemptReasons(pkgbase string) {
	for _, r := range b.buildReasons[pkgbase] {
		if _, ok := r.(reason.NvChecker); ok {
			b.attemptedNv[pkgbase] = true
			return
		}
	}
}

// makeJob assembles the worker job for one pick, including the commit
// message template naming the package, the target version and the
// human-readable reasons.
func (b *Batch) makeJob(tb *pkg.PkgToBuild) worker.Job {
	newver := b.nvdata[tb.Pkgbase].NewVer
	msg := fmt.Sprintf("%s: auto build", tb.Pkgbase)
	if newver != "" {
		msg = fmt.Sprintf("%s: auto updated to %s", tb.Pkgbase, newver)
	}
	msg += "\n\n" + reason.DisplayAll(b.buildReasons[tb.Pkgbase])

	job := worker.Job{
		Pkg:       *tb,
		CommitMsg: msg,
		Runner:    b.runners[tb.Pkgbase],
	}
	if info := b.managed[tb.Pkgbase]; info != nil {
		job.TimeLimit = info.TimeLimit
	}
	if pl, err := log.NewPackageLogger(b.logdir, tb.Pkgbase); err == nil {
		pl.WriteHeader(newver)
		job.Output = pl
		b.pkglogs[tb.Pkgbase] = pl
	} else {
		b.logger.Warn("%s: failed to open package log: %v", tb.Pkgbase, err)
	}
	return job
}

// handleResult performs the per-result bookkeeping on the driver
// goroutine: built/failed sets, error reports, the pkglog row and the
// sorter's done notification.
func (b *Batch) handleResult(msg buildMsg) {
	pkgbase := msg.pkgbase
	res := msg.result

	if pl, ok := b.pkglogs[pkgbase]; ok {
		pl.WriteResult(res.Outcome.String(), res.Elapsed)
		pl.Close()
		delete(b.pkglogs, pkgbase)
	}

	switch {
	case res.Succeeded():
		b.built[pkgbase] = true
		b.logger.Event("build succeeded", log.Fields{
			"pkgbase":     pkgbase,
			"pkg_version": msg.version,
			"nv_version":  b.nvdata[pkgbase].NewVer,
			"elapsed":     res.Elapsed.Seconds(),
		})
	case res.Outcome == worker.OutcomeSkipped:
		b.logger.Warn("%s: build skipped: %s", pkgbase, res.SkipReason)
	default:
		b.recordFailure(pkgbase, res)
	}

	if b.db.Enabled() {
		rec := &builddb.PkgLogRecord{
			UUID:         uuid.New().String(),
			Pkgbase:      pkgbase,
			NvVersion:    b.nvdata[pkgbase].NewVer,
			PkgVersion:   msg.version,
			Elapsed:      res.Elapsed,
			Result:       res.Outcome.String(),
			BuildReasons: displayReasons(b.buildReasons[pkgbase]),
			TS:           b.now(),
		}
		if res.RUsage != nil {
			rec.CPUTime = res.RUsage.CPUTime
			rec.Memory = res.RUsage.Memory
		}
		if res.Err != nil {
			rec.Msg = res.Err.Error()
		} else if res.SkipReason != "" {
			rec.Msg = res.SkipReason
		}
		if info := b.managed[pkgbase]; info != nil {
			rec.Maintainers = info.Maintainers
		}
		if err := b.db.AppendPkgLog(rec); err != nil {
			b.logger.Warn("pkglog %s: %v", pkgbase, err)
		}
	}

	b.finishPkg(pkgbase)
}

// recordFailure updates the failed map and dispatches the error report,
// distinguishing missing-dependency failures from everything else.
func (b *Batch) recordFailure(pkgbase string, res worker.Result) {
	b.logger.Event("build failed", log.Fields{
		"pkgbase": pkgbase,
		"msg":     res.Err.Error(),
		"elapsed": res.Elapsed.Seconds(),
	})

	if deps := worker.MissingDeps(res.Err); deps != nil {
		b.failed[pkgbase] = deps
		allFailed := true
		for _, d := range deps {
			if _, ok := b.failed[d]; !ok {
				allFailed = false
				break
			}
		}
		subject := "build failed this batch"
		if allFailed {
			subject = "build failed previously"
		}
		b.reporter.SendError(pkgbase, subject, res.Err.Error())
		return
	}

	b.failed[pkgbase] = []string{}
	b.reporter.SendError(pkgbase, "build failed",
		fmt.Sprintf("%v\n\nlog: %s", res.Err, b.logdir))
}
