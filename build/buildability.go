package build

import (
	"errors"
	"fmt"

	"lilac/builddb"
	"lilac/pkg"
	"lilac/reason"
)

// checkBuildability decides whether a package is still worth attempting
// now and produces the unit handed to the worker. A nil return means the
// package was skipped; it has been marked done unless the decision could
// not be made (a failed on_build version query leaves it pending).
func (b *Batch) checkBuildability(pkgbase string) *pkg.PkgToBuild {
	// Marked failed while loading metadata: nothing to build.
	if _, bad := b.failed[pkgbase]; bad {
		b.finishPkg(pkgbase)
		return nil
	}

	rs := b.buildReasons[pkgbase]
	tb := &pkg.PkgToBuild{Pkgbase: pkgbase}

	if len(rs) == 1 {
		switch r := rs[0].(type) {
		case reason.FailedByDeps:
			// Still waiting on the same missing dependencies; a
			// rebuild would fail identically.
			for _, d := range r.Deps {
				if !b.resolver.Resolved(pkg.Dependency{Pkgbase: d, Dir: d}) {
					b.finishPkg(pkgbase)
					return nil
				}
			}
		case reason.OnBuild:
			if !b.db.Enabled() {
				// Without build history the no-op detection cannot
				// run; build unconditionally.
				break
			}
			for _, spec := range r.UpdateOnBuild {
				if _, bad := b.failed[spec.Pkgbase]; bad {
					b.finishPkg(pkgbase)
					return nil
				}
			}
			vers, err := b.db.GetUpdateOnBuildVers(r.UpdateOnBuild)
			if err != nil {
				b.reporter.SendError(pkgbase, "update_on_build check failed",
					fmt.Sprintf("failed to fetch built versions for %s: %v", pkgbase, err))
				return nil
			}
			unchanged := true
			for _, v := range vers {
				if v.Old != v.New {
					unchanged = false
					break
				}
			}
			if unchanged {
				b.finishPkg(pkgbase)
				return nil
			}
			tb.OnBuildVers = vers
		}
	}

	// Packages not driven by on_build but declaring update_on_build get
	// stable (new, new) pairs so the worker sees a consistent version
	// context.
	if b.db.Enabled() && len(tb.OnBuildVers) == 0 {
		if info := b.managed[pkgbase]; info != nil && len(info.UpdateOnBuild) > 0 {
			vers, err := b.db.GetUpdateOnBuildVers(info.UpdateOnBuild)
			if err != nil {
				if !errors.Is(err, builddb.ErrNoHistory) {
					b.logger.Warn("%s: on_build version context: %v", pkgbase, err)
				}
			} else {
				for i := range vers {
					vers[i].Old = vers[i].New
				}
				tb.OnBuildVers = vers
			}
		}
	}

	return tb
}
