package build

import (
	"time"

	"lilac/pkg"
	"lilac/reason"
)

// assignReasons merges version-change, pkgrel-change, prior-failure,
// command-line and update_on_build signals into the per-package reason
// lists. changed holds the managed packages whose recipes differ between
// the last successful batch and head.
func (b *Batch) assignReasons(targets []Target, changed map[string]bool, head string) {
	add := func(pkgbase string, r reason.BuildReason) {
		b.buildReasons[pkgbase] = append(b.buildReasons[pkgbase], r)
	}

	if len(targets) > 0 {
		// Explicit targets: only the named packages are built, plus
		// whatever the graph and the on_build closure pull in.
		for _, t := range targets {
			if _, ok := b.managed[t.Pkgbase]; !ok {
				b.logger.Error("command-line target %s is not managed", t.Pkgbase)
				continue
			}
			add(t.Pkgbase, reason.Cmdline{Runner: t.Runner})
			if t.Runner != "" {
				b.runners[t.Pkgbase] = t.Runner
			}
		}
		b.assignOnBuildClosure()
		return
	}

	b.assignNvReasons()

	for pkgbase := range changed {
		// Exclude packages whose version-change state is unknown.
		if b.nvUnknown[pkgbase] {
			continue
		}
		rel, err := b.repo.PkgrelChanged(b.state.LastCommit, head, pkgbase)
		if err != nil {
			b.logger.Warn("pkgrel check for %s: %v", pkgbase, err)
			continue
		}
		if rel {
			add(pkgbase, reason.UpdatedPkgrel{})
		}
	}

	for pkgbase, info := range b.state.Failed {
		if _, ok := b.managed[pkgbase]; !ok {
			continue
		}
		if changed[pkgbase] {
			add(pkgbase, reason.UpdatedFailed{})
		}
		if len(info.Missing) > 0 {
			add(pkgbase, reason.FailedByDeps{Deps: info.Missing})
		}
	}

	b.assignOnBuildClosure()
}

// assignNvReasons attaches NvChecker reasons for packages with at least
// one changed update source, dropping throttled sources whose interval
// since the last successful build has not elapsed.
func (b *Batch) assignNvReasons() {
	var throttled map[string]bool
	successTimes := b.loadSuccessTimes()

	for pkgbase, info := range b.nvdata {
		lilacInfo := b.managed[pkgbase]
		if lilacInfo == nil {
			continue
		}

		var items []reason.NvItem
		var changes []pkg.VersionChange
		for idx, vc := range info.Results {
			if !vc.Changed() {
				continue
			}
			if interval, ok := lilacInfo.ThrottleInfo[idx]; ok && successTimes != nil {
				if last, ok := successTimes[pkgbase]; ok && b.now().Before(last.Add(interval)) {
					if throttled == nil {
						throttled = make(map[string]bool)
					}
					throttled[pkgbase] = true
					continue
				}
			}
			items = append(items, reason.NvItem{Index: idx, Source: vc.Source})
			changes = append(changes, vc)
		}
		if len(items) > 0 {
			b.buildReasons[pkgbase] = append(b.buildReasons[pkgbase],
				reason.NvChecker{Items: items, Changes: changes})
		} else if throttled[pkgbase] {
			b.logger.Info("%s: update throttled", pkgbase)
		}
	}
}

// loadSuccessTimes fetches the last successful build times used for
// throttle decisions. Without a database no throttling applies.
func (b *Batch) loadSuccessTimes() map[string]time.Time {
	if !b.db.Enabled() {
		return nil
	}
	throttled := make([]string, 0)
	for pkgbase := range b.nvdata {
		if info := b.managed[pkgbase]; info != nil && len(info.ThrottleInfo) > 0 {
			throttled = append(throttled, pkgbase)
		}
	}
	if len(throttled) == 0 {
		return nil
	}
	times, err := b.db.GetPkgsLastSuccessTimes(throttled)
	if err != nil {
		b.logger.Warn("last success times: %v", err)
		return nil
	}
	return times
}

// assignOnBuildClosure computes the update_on_build fan-out: whenever a
// scheduled package appears in another package's update_on_build list,
// that package is scheduled too, to a fixed point.
func (b *Batch) assignOnBuildClosure() {
	ifThisThenThose := make(map[string][]string)
	for pkgbase, info := range b.managed {
		for _, spec := range info.UpdateOnBuild {
			ifThisThenThose[spec.Pkgbase] = append(ifThisThenThose[spec.Pkgbase], pkgbase)
		}
	}

	queue := make([]string, 0, len(b.buildReasons))
	for pkgbase := range b.buildReasons {
		queue = append(queue, pkgbase)
	}
	seen := make(map[string]bool, len(queue))
	for _, pkgbase := range queue {
		seen[pkgbase] = true
	}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, q := range ifThisThenThose[p] {
			if seen[q] {
				continue
			}
			seen[q] = true
			if _, reasoned := b.buildReasons[q]; !reasoned {
				b.buildReasons[q] = append(b.buildReasons[q],
					reason.OnBuild{UpdateOnBuild: b.managed[q].UpdateOnBuild})
			}
			queue = append(queue, q)
		}
	}
}
