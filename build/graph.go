package build

import (
	"fmt"
	"sort"
	"strings"

	"lilac/log"
	"lilac/pkg"
	"lilac/reason"
)

// BuildGraph consolidates the runtime dependency map, restricted to
// packages with build reasons, into the build-order graph and its reverse.
//
// Unresolved managed dependencies that did not fail their last build are
// pulled into the batch with a Depended reason, which may in turn pull in
// their own dependencies, so the construction runs to a fixed point.
// Unresolved unmanaged dependencies are collected per package and reported
// once. The returned maps may reference packages without build reasons;
// the sorter finishes those on emission.
func BuildGraph(
	depmap pkg.DepMap,
	reasons map[string][]reason.BuildReason,
	managed map[string]*pkg.LilacInfo,
	resolver pkg.Resolver,
	lastBuildFailed func(pkgbase string) bool,
	reporter Reporter,
	logger log.LibraryLogger,
) (map[string]map[string]bool, map[string]map[string]bool) {
	depBuilding := make(map[string]map[string]bool)
	nonexistent := make(map[string][]pkg.Dependency)

	for {
		changed := false
		pkgbases := make([]string, 0, len(reasons))
		for pkgbase := range reasons {
			pkgbases = append(pkgbases, pkgbase)
		}
		sort.Strings(pkgbases)

		for _, pkgbase := range pkgbases {
			if _, done := depBuilding[pkgbase]; done {
				continue
			}
			deps := depmap[pkgbase]
			set := make(map[string]bool, len(deps))
			for _, d := range deps {
				_, isManaged := managed[d.Pkgbase]
				if !resolver.Resolved(d) {
					if !isManaged {
						nonexistent[pkgbase] = append(nonexistent[pkgbase], d)
						continue
					}
					if _, scheduled := reasons[d.Pkgbase]; !scheduled && !lastBuildFailed(d.Pkgbase) {
						reasons[d.Pkgbase] = append(reasons[d.Pkgbase], reason.Depended{Depender: pkgbase})
						changed = true
					}
				}
				if isManaged {
					set[d.Pkgbase] = true
				}
			}
			depBuilding[pkgbase] = set
		}
		if !changed {
			break
		}
	}

	for pkgbase, deps := range nonexistent {
		names := make([]string, 0, len(deps))
		for _, d := range deps {
			names = append(names, d.Pkgbase)
		}
		logger.Error("%s depends on unmanaged packages: %s", pkgbase, strings.Join(names, ", "))
		reporter.SendError(pkgbase, "nonexistent dependencies",
			fmt.Sprintf("the following dependencies of %s do not exist in the repository: %s",
				pkgbase, strings.Join(names, ", ")))
	}

	revdep := make(map[string]map[string]bool)
	for pkgbase, deps := range depBuilding {
		for dep := range deps {
			if revdep[dep] == nil {
				revdep[dep] = make(map[string]bool)
			}
			revdep[dep][pkgbase] = true
		}
	}
	return depBuilding, revdep
}

// BuildingPriority computes the effective priority of a package: the
// minimum priority class over its own reasons unioned with the reasons of
// every package in its transitive reverse-dependency closure. A leaf's
// urgency is inherited from everything waiting on it.
func BuildingPriority(pkgbase string, revdep map[string]map[string]bool, reasons map[string][]reason.BuildReason) int {
	all := append([]reason.BuildReason(nil), reasons[pkgbase]...)

	visited := map[string]bool{pkgbase: true}
	queue := make([]string, 0, len(revdep[pkgbase]))
	for q := range revdep[pkgbase] {
		queue = append(queue, q)
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if visited[p] {
			continue
		}
		visited[p] = true
		all = append(all, reasons[p]...)
		for q := range revdep[p] {
			if !visited[q] {
				queue = append(queue, q)
			}
		}
	}
	return reason.MinPriority(all)
}
