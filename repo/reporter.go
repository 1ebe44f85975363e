package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lilac/log"
)

// FileReporter records per-package error reports in the state directory
// and mirrors them to the batch log. Sites that deliver reports by mail
// hook their own Reporter implementation into the batch instead.
type FileReporter struct {
	path   string
	logger *log.Logger
	mu     sync.Mutex
}

// NewFileReporter writes reports to <statedir>/reports.log.
func NewFileReporter(statedir string, logger *log.Logger) *FileReporter {
	return &FileReporter{path: filepath.Join(statedir, "reports.log"), logger: logger}
}

// SendError appends one report entry. Delivery problems are logged and
// swallowed; reporting never interrupts a batch.
func (r *FileReporter) SendError(pkgbase, subject, msg string) {
	r.logger.Event("error report", log.Fields{
		"pkgbase": pkgbase,
		"msg":     subject + ": " + msg,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		r.logger.Error("failed to open reports file: %v", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] %s: %s\n%s\n\n", time.Now().Format(time.RFC3339), pkgbase, subject, msg)
}
