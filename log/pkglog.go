package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PackageLogger writes the per-package log for one build attempt. The file
// lives under the batch log directory as <pkgbase>.log and receives the
// worker's combined output between header and result trailer.
type PackageLogger struct {
	pkgbase string
	path    string
	file    *os.File
	mu      sync.Mutex
}

// NewPackageLogger opens <logdir>/<pkgbase>.log for writing.
func NewPackageLogger(logdir, pkgbase string) (*PackageLogger, error) {
	path := filepath.Join(logdir, pkgbase+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &PackageLogger{pkgbase: pkgbase, path: path, file: f}, nil
}

// Path returns the on-disk location of the log, for error reports.
func (p *PackageLogger) Path() string { return p.path }

// WriteHeader writes the build banner.
func (p *PackageLogger) WriteHeader(version string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.file, "===> building %s", p.pkgbase)
	if version != "" {
		fmt.Fprintf(p.file, " %s", version)
	}
	fmt.Fprintf(p.file, " at %s\n", time.Now().Format(time.RFC3339))
}

// Write implements io.Writer so worker output streams into the log.
func (p *PackageLogger) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Write(b)
}

// WriteResult writes the result trailer.
func (p *PackageLogger) WriteResult(result string, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.file, "===> %s: %s in %s\n", p.pkgbase, result, elapsed.Round(time.Second))
}

// Close closes the underlying file.
func (p *PackageLogger) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Close()
}
