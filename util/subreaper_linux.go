//go:build linux

package util

import "golang.org/x/sys/unix"

// BecomeSubreaper marks the process as a child subreaper so orphaned
// grandchildren from build workers are reaped here instead of by init.
// Best-effort: failures are reported but not fatal.
func BecomeSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}
