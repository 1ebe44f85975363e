package build

import (
	"sort"

	"lilac/builddb"
	"lilac/pkg"
	"lilac/stats"
)

// pick selects up to limit ready packages for submission, honoring the
// CPU, memory and starvation policy. running holds the pkgbases in
// flight; starving is true when nothing is running.
func (b *Batch) pick(limit int, running map[string]bool, starving bool) []*pkg.PkgToBuild {
	if limit <= 0 || !b.sorter.IsActive() {
		return nil
	}

	var ready []string
	for _, p := range b.sorter.GetReady() {
		if !running[p] {
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	rusages := make(map[string]builddb.RUsage)
	if b.db.Enabled() {
		if ru, err := b.db.GetPkgsLastRusage(ready); err == nil {
			rusages = ru
		} else {
			b.logger.Warn("last rusage: %v", err)
		}
	}

	intensity := func(p string) float64 {
		if ru, ok := rusages[p]; ok {
			return ru.CPUIntensity()
		}
		return 1.0
	}

	sort.SliceStable(ready, func(i, j int) bool {
		pi, pj := b.sorter.PriorityOf(ready[i]), b.sorter.PriorityOf(ready[j])
		if pi != pj {
			return pi < pj
		}
		return intensity(ready[i]) < intensity(ready[j])
	})

	cpuRatio := b.sampler.CPURatio()
	memAvail := b.sampler.MemoryAvailable()

	// With idle CPU, prefer a likely-bigger job: promote the last entry
	// of the head's priority tier when the tier is wide enough.
	if cpuRatio < 1.0 {
		tierEnd := 1
		head := b.sorter.PriorityOf(ready[0])
		for tierEnd < len(ready) && b.sorter.PriorityOf(ready[tierEnd]) == head {
			tierEnd++
		}
		if tierEnd > 3 {
			last := ready[tierEnd-1]
			copy(ready[1:tierEnd], ready[:tierEnd-1])
			ready[0] = last
		}
	}

	var picks []*pkg.PkgToBuild
	limitedByMemory := false
	for _, p := range ready {
		if len(picks) >= limit {
			break
		}
		if ru, ok := rusages[p]; ok && ru.Memory > memAvail {
			limitedByMemory = true
			continue
		}
		tb := b.checkBuildability(p)
		if tb == nil {
			continue
		}
		picks = append(picks, tb)
		if ru, ok := rusages[p]; ok && ru.Memory > 0 {
			memAvail -= ru.Memory
		} else {
			memAvail -= stats.DefaultMemoryBudget
		}
	}

	if len(picks) > 0 || !limitedByMemory {
		return picks
	}
	if !starving {
		// Something is running; wait for it to free memory.
		return nil
	}

	// Starvation branch: nothing fits and nothing runs. Take the
	// smallest buildable package regardless of the memory cap so the
	// batch keeps moving.
	sort.SliceStable(ready, func(i, j int) bool {
		pi, pj := b.sorter.PriorityOf(ready[i]), b.sorter.PriorityOf(ready[j])
		if pi != pj {
			return pi < pj
		}
		return pickMemory(rusages, ready[i]) < pickMemory(rusages, ready[j])
	})
	for _, p := range ready {
		if tb := b.checkBuildability(p); tb != nil {
			b.logger.Warn("%s: starting despite memory pressure", p)
			return []*pkg.PkgToBuild{tb}
		}
	}
	return nil
}

func pickMemory(rusages map[string]builddb.RUsage, p string) int64 {
	if ru, ok := rusages[p]; ok && ru.Memory > 0 {
		return ru.Memory
	}
	return stats.DefaultMemoryBudget
}
