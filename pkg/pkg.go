// Package pkg defines the package model shared across lilac: package
// identity, per-package build metadata parsed from lilac.yaml, dependency
// edges, and the upstream version-change data produced by the checker.
package pkg

import (
	"time"
)

// VersionChange is the result of one configured update source for a
// package: the previously known version and the newly detected one.
type VersionChange struct {
	OldVer string `json:"oldver"`
	NewVer string `json:"newver"`
	Source string `json:"source"`
}

// Changed reports whether the source detected a new upstream version.
func (v VersionChange) Changed() bool {
	return v.OldVer != v.NewVer
}

// NvInfo aggregates the per-source version results for one package.
// OldVer/NewVer are the package-level versions used in logs and commit
// messages; Results holds the per-source detail in update_on order.
type NvInfo struct {
	OldVer  string
	NewVer  string
	Results []VersionChange
}

// Changed reports whether any configured source saw a version change.
func (n NvInfo) Changed() bool {
	for _, r := range n.Results {
		if r.Changed() {
			return true
		}
	}
	return false
}

// NvData maps pkgbase to its version-check outcome for the current batch.
type NvData map[string]NvInfo

// OnBuildSpec names a package whose rebuild also triggers a rebuild of the
// declaring package. FromPattern and ToPattern are parsed but not applied:
// the trigger does not depend on version strings.
type OnBuildSpec struct {
	Pkgbase     string `yaml:"pkgbase"`
	FromPattern string `yaml:"from_pattern,omitempty"`
	ToPattern   string `yaml:"to_pattern,omitempty"`
}

// VersionPair carries an (old, new) version tuple for update_on_build
// context handed to the build worker.
type VersionPair struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// PkgToBuild is the unit handed to a build worker.
type PkgToBuild struct {
	Pkgbase     string
	OnBuildVers []VersionPair
}

// UpdateSource is one nvchecker source configuration from update_on.
// The "source" key names the backend; remaining keys are passed through.
type UpdateSource map[string]string

// Name returns the backend name of the source, or "" if unset.
func (s UpdateSource) Name() string {
	return s["source"]
}

// LilacInfo is the parsed per-package build metadata.
type LilacInfo struct {
	Pkgbase         string
	Maintainers     []string
	UpdateSources   []UpdateSource
	ThrottleInfo    map[int]time.Duration
	UpdateOnBuild   []OnBuildSpec
	RepoDepends     []Dependency
	RepoMakeDepends []Dependency
	TimeLimit       time.Duration
}
