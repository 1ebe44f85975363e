// Package worker defines the build worker collaborator: the component that
// takes one package and produces a build result, a version string, and
// resource-usage statistics. The scheduler depends only on the Worker
// interface; CmdWorker is the default subprocess-based implementation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"lilac/pkg"
)

// Outcome is the class of a build result.
type Outcome int

const (
	// OutcomeSuccessful means the package was built and published.
	OutcomeSuccessful Outcome = iota

	// OutcomeStaged means the package was built but held for manual
	// publication.
	OutcomeStaged

	// OutcomeSkipped means the worker decided not to build.
	OutcomeSkipped

	// OutcomeFailed means the build errored.
	OutcomeFailed
)

// String implements fmt.Stringer for log and database rows.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccessful:
		return "successful"
	case OutcomeStaged:
		return "staged"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RUsage is the resource usage of one build.
type RUsage struct {
	CPUTime time.Duration
	Memory  int64
}

// Result is the outcome of one build attempt.
type Result struct {
	Outcome    Outcome
	SkipReason string        // set when Outcome == OutcomeSkipped
	Err        error         // set when Outcome == OutcomeFailed
	Elapsed    time.Duration
	RUsage     *RUsage // nil when unavailable
}

// Succeeded reports whether the result counts toward the built set.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccessful || r.Outcome == OutcomeStaged
}

// MissingDependenciesError reports that a build failed because packages it
// needs are not available. It travels on the normal error return path and
// is inspected with errors.As.
type MissingDependenciesError struct {
	Deps []string
}

func (e *MissingDependenciesError) Error() string {
	return "missing dependencies: " + strings.Join(e.Deps, ", ")
}

// MissingDeps extracts the missing dependency list from a build error, or
// nil if the failure was unrelated to dependencies.
func MissingDeps(err error) []string {
	var m *MissingDependenciesError
	if errors.As(err, &m) {
		return m.Deps
	}
	return nil
}

// Job is everything a worker needs for one build.
type Job struct {
	Pkg        pkg.PkgToBuild
	WorkerID   int
	CommitMsg  string
	Runner     string
	TimeLimit  time.Duration
	Output     io.Writer // per-package log sink; may be nil
}

// Worker builds one package to completion. Implementations must be safe
// for concurrent Build calls with distinct worker ids.
type Worker interface {
	// Build blocks until the build finishes and returns the result and
	// the version string that was built.
	Build(ctx context.Context, job Job) (Result, string)
}
