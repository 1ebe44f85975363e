// Package cleaner prunes non-tracked files from per-package directories.
// It is unrelated to scheduling and runs from its own subcommand.
package cleaner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lilac/log"
	"lilac/util"
)

// protectWindow spares files modified close to the reference time: the
// newest git-managed mtime in the directory, or now when the directory
// has no git-managed files.
const protectWindow = 86400 * time.Second

// protectedSuffixes are never removed: logs and built package artifacts.
var protectedSuffixes = []string{
	".log",
	".pkg.tar.zst", ".pkg.tar.zst.sig",
	".pkg.tar.xz", ".pkg.tar.xz.sig",
}

// Cleaner removes stale files from package directories. Without Force it
// only prints what would be removed.
type Cleaner struct {
	Force  bool
	Logger log.LibraryLogger
	Out    io.Writer
}

// CleanDir prunes one package directory. tracked holds the
// directory-relative paths of git-managed files.
func (c *Cleaner) CleanDir(dir string, tracked map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	refTime := time.Now()
	if latest, ok := latestTrackedMtime(dir, tracked); ok {
		refTime = latest
	}

	// Nested VCS checkouts are compared against each other: only ones
	// lagging the newest sibling are removal candidates.
	var newestVCS time.Time
	for _, entry := range entries {
		if !entry.IsDir() || !isVCSCheckout(filepath.Join(dir, entry.Name())) {
			continue
		}
		if info, err := entry.Info(); err == nil && info.ModTime().After(newestVCS) {
			newestVCS = info.ModTime()
		}
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)

		if trackedEntry(name, tracked) || protectedName(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if entry.IsDir() && isVCSCheckout(path) {
			if newestVCS.Sub(info.ModTime()) <= protectWindow {
				continue
			}
		} else if refTime.Sub(info.ModTime()) <= protectWindow {
			continue
		}

		if err := c.remove(path); err != nil {
			c.Logger.Error("failed to remove %s: %v", path, err)
		}
	}
	return nil
}

// CleanRepo prunes every package directory under repodir. trackedByDir
// maps package directory names to their tracked relative paths.
func (c *Cleaner) CleanRepo(repodir string, trackedByDir map[string]map[string]bool) error {
	entries, err := os.ReadDir(repodir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		tracked := trackedByDir[entry.Name()]
		if tracked == nil {
			// Not a managed package directory.
			continue
		}
		if err := c.CleanDir(filepath.Join(repodir, entry.Name()), tracked); err != nil {
			c.Logger.Error("cleaning %s: %v", entry.Name(), err)
		}
	}
	return nil
}

func (c *Cleaner) remove(path string) error {
	if !c.Force {
		fmt.Fprintf(c.Out, "Would remove %s\n", path)
		return nil
	}
	fmt.Fprintf(c.Out, "Removing %s\n", path)
	return os.RemoveAll(path)
}

// trackedEntry reports whether the entry itself or anything under it is
// git-managed.
func trackedEntry(name string, tracked map[string]bool) bool {
	if tracked[name] {
		return true
	}
	prefix := name + "/"
	for path := range tracked {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func protectedName(name string) bool {
	if name == "__pycache__" {
		return true
	}
	for _, suffix := range protectedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func latestTrackedMtime(dir string, tracked map[string]bool) (time.Time, bool) {
	var latest time.Time
	found := false
	for rel := range tracked {
		info, err := os.Stat(filepath.Join(dir, rel))
		if err != nil {
			continue
		}
		found = true
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest, found
}

func isVCSCheckout(path string) bool {
	for _, marker := range []string{".git", ".hg", ".svn"} {
		if util.DirExists(filepath.Join(path, marker)) {
			return true
		}
	}
	return false
}
