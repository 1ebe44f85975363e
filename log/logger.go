// Package log manages the batch log files: a human-readable build.log, a
// structured build-log.json with one JSON object per line, and per-package
// per-batch logs under log/<timestamp>/.
package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fields carries the optional structured attributes of a log entry.
// Recognized keys include pkgbase, nv_version, pkg_version and elapsed.
type Fields map[string]any

// Logger writes batch-level logs. It is safe for concurrent use.
type Logger struct {
	name  string
	human *os.File
	jsonl *os.File
	mu    sync.Mutex
}

// New creates a Logger writing build.log and build-log.json under dir.
// Both files are opened in append mode so consecutive batches share them.
func New(name, dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	human, err := os.OpenFile(filepath.Join(dir, "build.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	jsonl, err := os.OpenFile(filepath.Join(dir, "build-log.json"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		human.Close()
		return nil, err
	}

	return &Logger{name: name, human: human, jsonl: jsonl}, nil
}

// Close flushes and closes the underlying log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.human.Close()
	err2 := l.jsonl.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Event writes a structured entry to build-log.json and a one-line summary
// to build.log.
func (l *Logger) Event(event string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write("info", event, "", fields)
}

func (l *Logger) log(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(level, "log", fmt.Sprintf(format, args...), nil)
}

// write appends to both files; callers hold l.mu.
func (l *Logger) write(level, event, msg string, fields Fields) {
	now := time.Now()

	entry := make(map[string]any, len(fields)+5)
	for k, v := range fields {
		entry[k] = v
	}
	entry["logger_name"] = l.name
	entry["level"] = level
	entry["event"] = event
	entry["ts"] = now.UTC().Format(time.RFC3339)
	if msg != "" {
		entry["msg"] = msg
	}
	if data, err := json.Marshal(entry); err == nil {
		l.jsonl.Write(append(data, '\n'))
	}

	line := msg
	if line == "" {
		line = event
		if pb, ok := fields["pkgbase"]; ok {
			line = fmt.Sprintf("%s: %v", event, pb)
		}
	}
	fmt.Fprintf(l.human, "[%s] %-5s %s\n", now.Format("2006-01-02 15:04:05"), level, line)
}

// Info implements LibraryLogger.
func (l *Logger) Info(format string, args ...any) { l.log("info", format, args...) }

// Debug implements LibraryLogger.
func (l *Logger) Debug(format string, args ...any) { l.log("debug", format, args...) }

// Warn implements LibraryLogger.
func (l *Logger) Warn(format string, args ...any) { l.log("warn", format, args...) }

// Error implements LibraryLogger.
func (l *Logger) Error(format string, args ...any) { l.log("error", format, args...) }
