// Package build implements the scheduler core: the reason-assignment pass,
// the dependency graph builder, the topological build sorter, the
// resource-aware admission picker, the build driver, and the batch
// controller tying them together.
package build

import "sort"

// BuildSorter is a topological readiness tracker over the build-order
// graph. Packages become ready once all their prerequisites are done.
// Packages that carry no build reason are marked done the moment they
// become ready: they entered the graph only to order their dependents.
type BuildSorter struct {
	pending    map[string]map[string]struct{} // node -> outstanding deps
	dependents map[string][]string            // dep -> nodes waiting on it
	finished   map[string]bool
	ready      []string
	hasReason  func(pkgbase string) bool
	priority   func(pkgbase string) int
	total      int
}

// NewBuildSorter builds the tracker from the dep-building map. hasReason
// filters emissions; priority serves PriorityOf.
func NewBuildSorter(depBuilding map[string]map[string]bool, hasReason func(string) bool, priority func(string) int) *BuildSorter {
	s := &BuildSorter{
		pending:    make(map[string]map[string]struct{}),
		dependents: make(map[string][]string),
		finished:   make(map[string]bool),
		hasReason:  hasReason,
		priority:   priority,
	}

	nodes := make(map[string]bool)
	for pkgbase, deps := range depBuilding {
		nodes[pkgbase] = true
		for dep := range deps {
			nodes[dep] = true
		}
	}
	s.total = len(nodes)

	for node := range nodes {
		s.pending[node] = make(map[string]struct{})
	}
	for pkgbase, deps := range depBuilding {
		for dep := range deps {
			if dep == pkgbase {
				continue
			}
			s.pending[pkgbase][dep] = struct{}{}
			s.dependents[dep] = append(s.dependents[dep], pkgbase)
		}
	}

	var roots []string
	for node, deps := range s.pending {
		if len(deps) == 0 {
			roots = append(roots, node)
		}
	}
	sort.Strings(roots)
	for _, node := range roots {
		s.emit(node)
	}
	return s
}

// emit makes a node ready, or finishes it immediately when it has no
// build reason.
func (s *BuildSorter) emit(node string) {
	if s.finished[node] {
		return
	}
	if !s.hasReason(node) {
		s.finish(node)
		return
	}
	s.ready = append(s.ready, node)
}

// finish marks a node done and emits dependents that became ready.
func (s *BuildSorter) finish(node string) {
	s.finished[node] = true
	for _, dep := range s.dependents[node] {
		if s.finished[dep] {
			continue
		}
		delete(s.pending[dep], node)
		if len(s.pending[dep]) == 0 {
			s.emit(dep)
		}
	}
}

// IsActive reports whether any node has not yet been reported done.
func (s *BuildSorter) IsActive() bool {
	return len(s.finished) < s.total
}

// DoneCount returns how many nodes have finished. The driver compares it
// across a pick round to detect progress made by buildability checks.
func (s *BuildSorter) DoneCount() int {
	return len(s.finished)
}

// GetReady returns the packages currently ready to build. The slice is a
// copy; packages stay in it until Done is called for them.
func (s *BuildSorter) GetReady() []string {
	out := make([]string, len(s.ready))
	copy(out, s.ready)
	return out
}

// Done reports a package finished. Calls for packages already done are
// silently ignored, tolerating the picker's evaluate-twice pattern across
// regular and starvation rounds.
func (s *BuildSorter) Done(pkgbase string) {
	if s.finished[pkgbase] {
		return
	}
	for i, r := range s.ready {
		if r == pkgbase {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			break
		}
	}
	s.finish(pkgbase)
}

// PriorityOf returns the effective scheduling priority of a package.
func (s *BuildSorter) PriorityOf(pkgbase string) int {
	return s.priority(pkgbase)
}
