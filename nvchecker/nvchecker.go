// Package nvchecker runs the external upstream version checker and keeps
// the acknowledged-version records it diffs against.
package nvchecker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"lilac/log"
	"lilac/pkg"
)

// Runner invokes the nvchecker binary and tracks acknowledged versions in
// <statedir>/oldver.json.
type Runner struct {
	StateDir string
	Proxy    string
	Logger   log.LibraryLogger

	// Binary overrides the executable name, for tests.
	Binary string
}

// event is one JSON log line from nvchecker --logger json.
type event struct {
	Name    string `json:"name"`
	Event   string `json:"event"`
	Level   string `json:"level"`
	Version string `json:"version"`
}

// Check runs the version checker over the given packages and returns the
// per-package results plus the set of packages whose check failed.
func (r *Runner) Check(ctx context.Context, pkgs map[string]*pkg.LilacInfo) (pkg.NvData, map[string]bool, error) {
	oldvers, err := r.loadOldVers()
	if err != nil {
		return nil, nil, err
	}

	cfgPath, err := r.writeConfig(pkgs)
	if err != nil {
		return nil, nil, err
	}
	defer os.Remove(cfgPath)

	binary := r.Binary
	if binary == "" {
		binary = "nvchecker"
	}
	cmd := exec.CommandContext(ctx, binary, "-c", cfgPath, "--logger", "json")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to run %s: %w", binary, err)
	}

	newvers := make(map[string]string)
	errored := make(map[string]bool)
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		var ev event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		entryPkg, _ := splitEntry(ev.Name)
		switch {
		case ev.Level == "error":
			errored[entryPkg] = true
		case ev.Version != "":
			newvers[ev.Name] = ev.Version
		}
	}
	if err := cmd.Wait(); err != nil {
		// nvchecker exits non-zero when some sources fail; per-source
		// errors are already recorded, so keep the partial results.
		r.Logger.Warn("nvchecker exited with error: %v", err)
	}

	data := make(pkg.NvData, len(pkgs))
	unknown := make(map[string]bool)
	for pkgbase, info := range pkgs {
		if len(info.UpdateSources) == 0 {
			continue
		}
		nv := pkg.NvInfo{OldVer: oldvers[pkgbase]}
		got := false
		for idx, src := range info.UpdateSources {
			entry := entryName(pkgbase, idx)
			newver, ok := newvers[entry]
			if ok {
				got = true
			}
			nv.Results = append(nv.Results, pkg.VersionChange{
				OldVer: oldvers[entry],
				NewVer: newver,
				Source: src.Name(),
			})
			if idx == 0 {
				nv.OldVer = oldvers[entry]
				nv.NewVer = newver
			}
		}
		if !got || errored[pkgbase] {
			unknown[pkgbase] = true
			if !got {
				continue
			}
		}
		data[pkgbase] = nv
	}
	return data, unknown, nil
}

// Take acknowledges the package's new versions so subsequent checks no
// longer report them as changed.
func (r *Runner) Take(pkgbase string, info pkg.NvInfo) error {
	oldvers, err := r.loadOldVers()
	if err != nil {
		return err
	}
	for idx, vc := range info.Results {
		if vc.NewVer != "" {
			oldvers[entryName(pkgbase, idx)] = vc.NewVer
		}
	}
	return r.saveOldVers(oldvers)
}

func (r *Runner) oldVerPath() string {
	return filepath.Join(r.StateDir, "oldver.json")
}

func (r *Runner) loadOldVers() (map[string]string, error) {
	data, err := os.ReadFile(r.oldVerPath())
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	vers := make(map[string]string)
	if err := json.Unmarshal(data, &vers); err != nil {
		return nil, fmt.Errorf("corrupt oldver records: %w", err)
	}
	return vers, nil
}

func (r *Runner) saveOldVers(vers map[string]string) error {
	data, err := json.MarshalIndent(vers, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.oldVerPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.oldVerPath())
}

// writeConfig renders one checker section per configured update source.
func (r *Runner) writeConfig(pkgs map[string]*pkg.LilacInfo) (string, error) {
	file := ini.Empty()

	pkgbases := make([]string, 0, len(pkgs))
	for pkgbase := range pkgs {
		pkgbases = append(pkgbases, pkgbase)
	}
	sort.Strings(pkgbases)

	for _, pkgbase := range pkgbases {
		for idx, src := range pkgs[pkgbase].UpdateSources {
			sec, err := file.NewSection(entryName(pkgbase, idx))
			if err != nil {
				return "", err
			}
			keys := make([]string, 0, len(src))
			for k := range src {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if _, err := sec.NewKey(k, src[k]); err != nil {
					return "", err
				}
			}
			if r.Proxy != "" && sec.Key("proxy").String() == "" {
				sec.NewKey("proxy", r.Proxy)
			}
		}
	}

	f, err := os.CreateTemp("", "lilac-nvchecker-*.ini")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := file.WriteTo(f); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func entryName(pkgbase string, idx int) string {
	if idx == 0 {
		return pkgbase
	}
	return pkgbase + ":" + strconv.Itoa(idx)
}

func splitEntry(entry string) (string, int) {
	if i := strings.LastIndexByte(entry, ':'); i >= 0 {
		if idx, err := strconv.Atoi(entry[i+1:]); err == nil {
			return entry[:i], idx
		}
	}
	return entry, 0
}
