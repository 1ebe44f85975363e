package pkg

import (
	"path/filepath"

	"lilac/log"
)

// Dependency is a directed edge from a package to one of its dependencies.
// Pkgbase identifies the dependency within the managed set; Dir is its
// on-disk directory name under the repository (usually equal to Pkgbase,
// but split packages may differ).
type Dependency struct {
	Pkgbase string
	Dir     string
}

// DepMap maps pkgbase to the dependencies it needs. Two instances are
// derived once per batch: the runtime map (DEPMAP) and the build-time map
// (BUILD_DEPMAP). Both are immutable thereafter.
type DepMap map[string][]Dependency

// Resolver decides whether a dependency is currently satisfied from the
// installed/built-artifact perspective.
type Resolver interface {
	Resolved(d Dependency) bool
}

// DestdirResolver resolves a dependency by looking for a built package
// artifact in the repository destination directory.
type DestdirResolver struct {
	DestDir string
}

// Resolved reports whether a built artifact for the dependency exists.
func (r DestdirResolver) Resolved(d Dependency) bool {
	for _, pat := range []string{
		d.Pkgbase + "-*.pkg.tar.zst",
		d.Pkgbase + "-*.pkg.tar.xz",
	} {
		matches, err := filepath.Glob(filepath.Join(r.DestDir, pat))
		if err == nil && len(matches) > 0 {
			return true
		}
	}
	return false
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(d Dependency) bool

func (f ResolverFunc) Resolved(d Dependency) bool { return f(d) }

// BuildDepMaps derives the runtime and build-time dependency maps from the
// managed package set. Entries referencing unmanaged pkgbases are logged
// and removed so that every dependency in the returned maps is managed.
func BuildDepMaps(managed map[string]*LilacInfo, logger log.LibraryLogger) (DepMap, DepMap) {
	depmap := make(DepMap, len(managed))
	buildDepmap := make(DepMap, len(managed))

	keep := func(owner string, deps []Dependency) []Dependency {
		out := deps[:0:0]
		for _, d := range deps {
			if _, ok := managed[d.Pkgbase]; !ok {
				logger.Warn("%s: dependency %s is not managed, ignored", owner, d.Pkgbase)
				continue
			}
			out = append(out, d)
		}
		return out
	}

	for pkgbase, info := range managed {
		run := keep(pkgbase, info.RepoDepends)
		if len(run) > 0 {
			depmap[pkgbase] = run
		}
		all := make([]Dependency, 0, len(run)+len(info.RepoMakeDepends))
		all = append(all, run...)
		all = append(all, keep(pkgbase, info.RepoMakeDepends)...)
		if len(all) > 0 {
			buildDepmap[pkgbase] = dedupDeps(all)
		}
	}
	return depmap, buildDepmap
}

func dedupDeps(deps []Dependency) []Dependency {
	seen := make(map[string]bool, len(deps))
	out := deps[:0]
	for _, d := range deps {
		if seen[d.Pkgbase] {
			continue
		}
		seen[d.Pkgbase] = true
		out = append(out, d)
	}
	return out
}
