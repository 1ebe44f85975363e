package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// CmdWorker builds packages by running a configured command inside the
// package directory. The command's exit status decides the outcome; its
// resource usage is read back from the wait status.
//
// Protocol: exit 0 is a successful build, and a `.lilac-staged` file left in
// the package directory marks it staged. After a non-zero exit, package names
// listed one per line in `.lilac-missing-deps` map to
// MissingDependenciesError. The built version is read from `.lilac-version`.
type CmdWorker struct {
	RepoDir string
	Command []string // argv; the package directory is appended
	Env     []string // extra environment entries, KEY=VALUE
}

// Build implements Worker.
func (w *CmdWorker) Build(ctx context.Context, job Job) (Result, string) {
	start := time.Now()
	pkgdir := filepath.Join(w.RepoDir, job.Pkg.Pkgbase)

	if job.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.TimeLimit)
		defer cancel()
	}

	args := append([]string{}, w.Command[1:]...)
	args = append(args, pkgdir)
	cmd := exec.CommandContext(ctx, w.Command[0], args...)
	cmd.Dir = pkgdir
	cmd.Env = append(os.Environ(), w.Env...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("LILAC_WORKER=%d", job.WorkerID),
		fmt.Sprintf("LILAC_RUNNER=%s", job.Runner),
		fmt.Sprintf("LILAC_COMMIT_MSG=%s", job.CommitMsg),
	)
	if job.Output != nil {
		cmd.Stdout = job.Output
		cmd.Stderr = job.Output
	}

	err := cmd.Run()
	elapsed := time.Since(start)

	res := Result{Elapsed: elapsed}
	if state := cmd.ProcessState; state != nil {
		if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
			res.RUsage = &RUsage{
				CPUTime: time.Duration(ru.Utime.Nano() + ru.Stime.Nano()),
				Memory:  ru.Maxrss * 1024,
			}
		}
	}

	version := readBuiltVersion(pkgdir)

	if err == nil {
		res.Outcome = OutcomeSuccessful
		if staged(pkgdir) {
			res.Outcome = OutcomeStaged
		}
		return res, version
	}

	res.Outcome = OutcomeFailed
	if deps := scanMissingDeps(pkgdir); len(deps) > 0 {
		res.Err = &MissingDependenciesError{Deps: deps}
	} else if ctx.Err() == context.DeadlineExceeded {
		res.Err = fmt.Errorf("build timed out after %s: %w", job.TimeLimit, err)
	} else {
		res.Err = fmt.Errorf("build command failed: %w", err)
	}
	return res, version
}

// readBuiltVersion reads the version the build produced, written by the
// build command to .lilac-version in the package directory.
func readBuiltVersion(pkgdir string) string {
	data, err := os.ReadFile(filepath.Join(pkgdir, ".lilac-version"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// staged reports whether the build command flagged the result as staged.
func staged(pkgdir string) bool {
	_, err := os.Stat(filepath.Join(pkgdir, ".lilac-staged"))
	return err == nil
}

// scanMissingDeps reads the missing-dependency report the build command
// leaves behind when it cannot satisfy dependencies, one name per line.
func scanMissingDeps(pkgdir string) []string {
	f, err := os.Open(filepath.Join(pkgdir, ".lilac-missing-deps"))
	if err != nil {
		return nil
	}
	defer f.Close()

	var deps []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			deps = append(deps, line)
		}
	}
	return deps
}
