// Package repo manages the package repository working tree through git:
// branch guard, reset/pull/push around a batch, and the commit diffs the
// reason-assignment pass feeds on.
package repo

import (
	"fmt"
	"regexp"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"lilac/log"
)

var pkgrelRe = regexp.MustCompile(`(?m)^pkgrel\s*=\s*([^\s#]+)`)

// Repository wraps the managed package tree's git repository.
type Repository struct {
	dir    string
	repo   *git.Repository
	logger log.LibraryLogger
}

// Open opens the git repository at dir.
func Open(dir string, logger log.LibraryLogger) (*Repository, error) {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", dir, err)
	}
	return &Repository{dir: dir, repo: r, logger: logger}, nil
}

// EnsureMainBranch rejects a batch unless the checked-out branch is
// master or main.
func (r *Repository) EnsureMainBranch() error {
	ref, err := r.repo.Head()
	if err != nil {
		return err
	}
	branch := ref.Name().Short()
	if branch != "master" && branch != "main" {
		return fmt.Errorf("repository is on branch %q, refusing to run (want master or main)", branch)
	}
	return nil
}

// ResetHard discards all local modifications.
func (r *Repository) ResetHard() error {
	w, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	head, err := r.repo.Head()
	if err != nil {
		return err
	}
	return w.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset})
}

// Pull fast-forwards from origin. Already up to date is not an error.
func (r *Repository) Pull() error {
	w, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	err = w.Pull(&git.PullOptions{RemoteName: "origin", Force: true})
	if err == git.NoErrAlreadyUpToDate || err == git.ErrRemoteNotFound {
		return nil
	}
	return err
}

// Push publishes local commits, retrying once after a pull when the
// remote moved underneath us.
func (r *Repository) Push() error {
	err := r.repo.Push(&git.PushOptions{})
	if err == nil || err == git.NoErrAlreadyUpToDate {
		return nil
	}
	r.logger.Warn("git push failed, pulling and retrying: %v", err)
	if err := r.Pull(); err != nil {
		return err
	}
	err = r.repo.Push(&git.PushOptions{})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	return err
}

// Head returns the current commit sha.
func (r *Repository) Head() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

// ChangedPackages returns the top-level directories touched between two
// commits.
func (r *Repository) ChangedPackages(oldCommit, newCommit string) ([]string, error) {
	changes, err := r.diff(oldCommit, newCommit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var dirs []string
	record := func(path string) {
		dir, _, found := strings.Cut(path, "/")
		if !found || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	for _, ch := range changes {
		if ch.From.Name != "" {
			record(ch.From.Name)
		}
		if ch.To.Name != "" {
			record(ch.To.Name)
		}
	}
	return dirs, nil
}

// PkgrelChanged reports whether the package's release counter differs
// between two commits. Packages without a readable pkgrel on either side
// report false.
func (r *Repository) PkgrelChanged(oldCommit, newCommit, pkgbase string) (bool, error) {
	oldRel, err := r.pkgrelAt(oldCommit, pkgbase)
	if err != nil {
		return false, err
	}
	newRel, err := r.pkgrelAt(newCommit, pkgbase)
	if err != nil {
		return false, err
	}
	return oldRel != "" && newRel != "" && oldRel != newRel, nil
}

func (r *Repository) pkgrelAt(commit, pkgbase string) (string, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return "", err
	}
	f, err := c.File(pkgbase + "/PKGBUILD")
	if err != nil {
		// Recipe absent at this commit.
		return "", nil
	}
	contents, err := f.Contents()
	if err != nil {
		return "", err
	}
	m := pkgrelRe.FindStringSubmatch(contents)
	if m == nil {
		return "", nil
	}
	return m[1], nil
}

func (r *Repository) diff(oldCommit, newCommit string) (object.Changes, error) {
	oldC, err := r.repo.CommitObject(plumbing.NewHash(oldCommit))
	if err != nil {
		return nil, fmt.Errorf("bad old commit %s: %w", oldCommit, err)
	}
	newC, err := r.repo.CommitObject(plumbing.NewHash(newCommit))
	if err != nil {
		return nil, fmt.Errorf("bad new commit %s: %w", newCommit, err)
	}
	oldTree, err := oldC.Tree()
	if err != nil {
		return nil, err
	}
	newTree, err := newC.Tree()
	if err != nil {
		return nil, err
	}
	return object.DiffTree(oldTree, newTree)
}

// ManagedFiles returns the repository-relative paths tracked at HEAD.
// The housekeeping cleaner uses this to protect checked-in files.
func (r *Repository) ManagedFiles() (map[string]bool, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return nil, err
	}
	c, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}

	files := make(map[string]bool)
	err = tree.Files().ForEach(func(f *object.File) error {
		files[f.Name] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
