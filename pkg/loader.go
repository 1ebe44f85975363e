package pkg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"lilac/log"
)

// MetadataFile is the per-package build metadata file name.
const MetadataFile = "lilac.yaml"

// rawLilacInfo mirrors the on-disk lilac.yaml schema.
type rawLilacInfo struct {
	Maintainers     []map[string]string `yaml:"maintainers"`
	UpdateOn        []map[string]any    `yaml:"update_on"`
	UpdateOnBuild   []OnBuildSpec       `yaml:"update_on_build"`
	RepoDepends     []depEntry          `yaml:"repo_depends"`
	RepoMakeDepends []depEntry          `yaml:"repo_makedepends"`
	TimeLimit       string              `yaml:"time_limit"`
}

// depEntry accepts either a plain pkgbase string or a single-entry
// {dir: pkgbase} map.
type depEntry struct {
	Pkgbase string
	Dir     string
}

func (d *depEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		d.Pkgbase = s
		d.Dir = s
		return nil
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		if len(m) != 1 {
			return fmt.Errorf("repo_depends entry must have exactly one dir: pkgbase pair")
		}
		for dir, pkgbase := range m {
			d.Dir = dir
			d.Pkgbase = pkgbase
		}
		return nil
	default:
		return fmt.Errorf("unsupported repo_depends entry")
	}
}

// LoadManaged parses lilac.yaml for every package directory under repodir.
// Directories without a metadata file are skipped. Parse failures do not
// abort the scan; the affected pkgbases are returned in the failed map with
// an empty missing-dependency list, mirroring a build failure unrelated to
// dependencies.
func LoadManaged(ctx context.Context, repodir string, logger log.LibraryLogger) (map[string]*LilacInfo, map[string][]string, error) {
	entries, err := os.ReadDir(repodir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan repository: %w", err)
	}

	var (
		mu      sync.Mutex
		managed = make(map[string]*LilacInfo)
		failed  = make(map[string][]string)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		pkgbase := entry.Name()
		path := filepath.Join(repodir, pkgbase, MetadataFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := loadLilacInfo(path, pkgbase)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("%s: failed to load %s: %v", pkgbase, MetadataFile, err)
				failed[pkgbase] = []string{}
				return nil
			}
			managed[pkgbase] = info
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return managed, failed, nil
}

func loadLilacInfo(path, pkgbase string) (*LilacInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw rawLilacInfo
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	info := &LilacInfo{
		Pkgbase:       pkgbase,
		UpdateOnBuild: raw.UpdateOnBuild,
		ThrottleInfo:  make(map[int]time.Duration),
	}

	for _, m := range raw.Maintainers {
		if v, ok := m["github"]; ok && v != "" {
			info.Maintainers = append(info.Maintainers, v)
		} else if v, ok := m["email"]; ok && v != "" {
			info.Maintainers = append(info.Maintainers, v)
		}
	}

	for i, src := range raw.UpdateOn {
		us := make(UpdateSource, len(src))
		for k, v := range src {
			if k == "throttle" {
				d, err := time.ParseDuration(fmt.Sprint(v))
				if err != nil {
					return nil, fmt.Errorf("update_on[%d]: bad throttle: %w", i, err)
				}
				info.ThrottleInfo[i] = d
				continue
			}
			us[k] = fmt.Sprint(v)
		}
		info.UpdateSources = append(info.UpdateSources, us)
	}

	for _, d := range raw.RepoDepends {
		info.RepoDepends = append(info.RepoDepends, Dependency{Pkgbase: d.Pkgbase, Dir: d.Dir})
	}
	for _, d := range raw.RepoMakeDepends {
		info.RepoMakeDepends = append(info.RepoMakeDepends, Dependency{Pkgbase: d.Pkgbase, Dir: d.Dir})
	}

	if raw.TimeLimit != "" {
		d, err := time.ParseDuration(raw.TimeLimit)
		if err != nil {
			return nil, fmt.Errorf("bad time_limit: %w", err)
		}
		info.TimeLimit = d
	}

	return info, nil
}

// Pkgbases returns the sorted pkgbase names of the managed set.
func Pkgbases(managed map[string]*LilacInfo) []string {
	names := make([]string, 0, len(managed))
	for name := range managed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
