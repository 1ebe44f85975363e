// Package reason enumerates why a package is being built. Each variant
// carries its own fields and a priority class; lower classes are scheduled
// earlier. The effective priority of a package is computed by the scheduler
// from its own reasons plus those of its transitive reverse dependencies.
package reason

import (
	"fmt"
	"strings"

	"lilac/pkg"
)

// Priority classes. Lower is more urgent.
const (
	PriorityUrgent  = 0
	PriorityHigh    = 1
	PriorityMedium  = 2
	PriorityDefault = 3
)

// BuildReason is one cause for scheduling a package in the current batch.
type BuildReason interface {
	// PriorityClass returns the scheduling class of this reason alone.
	PriorityClass() int

	// Display returns the human-readable rendering used in commit
	// messages, reports and pkglog rows.
	Display() string
}

// UpdatedPkgrel marks a package whose release counter was bumped in the
// recipe since the last successful batch.
type UpdatedPkgrel struct{}

func (UpdatedPkgrel) PriorityClass() int { return PriorityUrgent }
func (UpdatedPkgrel) Display() string    { return "pkgrel updated" }

// NvItem identifies one changed update source by its index and backend name.
type NvItem struct {
	Index  int
	Source string
}

// NvChecker marks a package with at least one upstream version change.
type NvChecker struct {
	Items   []NvItem
	Changes []pkg.VersionChange
}

func (r NvChecker) PriorityClass() int {
	for _, it := range r.Items {
		if it.Source == "manual" {
			return PriorityUrgent
		}
	}
	if len(r.Items) > 1 || (len(r.Items) == 1 && r.Items[0].Index > 0) {
		return PriorityHigh
	}
	return PriorityDefault
}

func (r NvChecker) Display() string {
	changes := make([]string, 0, len(r.Changes))
	for _, c := range r.Changes {
		changes = append(changes, fmt.Sprintf("%s -> %s", c.OldVer, c.NewVer))
	}
	return "updated by nvchecker: " + strings.Join(changes, ", ")
}

// Depended marks a package pulled into the batch because another scheduled
// package depends on it. Its urgency comes from the depender, which the
// scheduler accounts for through the reverse-dependency closure, so the
// standalone class is the default.
type Depended struct {
	Depender string
}

func (Depended) PriorityClass() int { return PriorityDefault }
func (r Depended) Display() string  { return "depended by " + r.Depender }

// UpdatedFailed marks a previously failed package whose recipe has changed
// since the last successful batch.
type UpdatedFailed struct{}

func (UpdatedFailed) PriorityClass() int { return PriorityMedium }
func (UpdatedFailed) Display() string {
	return "failed last time and the recipe has been updated"
}

// FailedByDeps marks a package that failed previously because dependencies
// were missing.
type FailedByDeps struct {
	Deps []string
}

func (FailedByDeps) PriorityClass() int { return PriorityDefault }
func (r FailedByDeps) Display() string {
	return "failed by missing dependencies: " + strings.Join(r.Deps, ", ")
}

// Cmdline marks an explicit command-line target. Runner is an opaque tag
// forwarded to the build worker.
type Cmdline struct {
	Runner string
}

func (Cmdline) PriorityClass() int { return PriorityDefault }
func (r Cmdline) Display() string {
	if r.Runner != "" {
		return "requested on the command line by " + r.Runner
	}
	return "requested on the command line"
}

// OnBuild marks a package reached by the update_on_build closure: it is
// rebuilt because a package it watches is being rebuilt.
type OnBuild struct {
	UpdateOnBuild []pkg.OnBuildSpec
}

func (OnBuild) PriorityClass() int { return PriorityDefault }
func (r OnBuild) Display() string {
	names := make([]string, 0, len(r.UpdateOnBuild))
	for _, s := range r.UpdateOnBuild {
		names = append(names, s.Pkgbase)
	}
	return "triggered by the build of: " + strings.Join(names, ", ")
}

// MinPriority returns the minimum class across the given reasons, or
// PriorityDefault when the list is empty.
func MinPriority(rs []BuildReason) int {
	min := PriorityDefault
	for _, r := range rs {
		if p := r.PriorityClass(); p < min {
			min = p
		}
	}
	return min
}

// DisplayAll renders the reasons one per line for commit messages.
func DisplayAll(rs []BuildReason) string {
	lines := make([]string, 0, len(rs))
	for _, r := range rs {
		lines = append(lines, r.Display())
	}
	return strings.Join(lines, "\n")
}
