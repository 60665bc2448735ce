package syncer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

const (
	logMaxBytes  = 3 * 1024 * 1024
	logKeepLines = 3000
)

// LogFile is an append-only log that trims itself to its last lines once it grows
// past a size limit.
type LogFile struct {
	mu        sync.Mutex
	path      string
	f         *os.File
	size      int64
	maxBytes  int64
	keepLines int
}

// OpenLogFile opens or creates the log at path.
func OpenLogFile(path string) (*LogFile, error) {
	return openLogFile(path, logMaxBytes, logKeepLines)
}

func openLogFile(path string, maxBytes int64, keepLines int) (*LogFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	l := &LogFile{path: path, maxBytes: maxBytes, keepLines: keepLines}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LogFile) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	l.f = f
	l.size = info.Size()
	return nil
}

// Write appends p and trims the file if it has grown too large.
func (l *LogFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return 0, os.ErrClosed
	}
	n, err := l.f.Write(p)
	l.size += int64(n)
	if err != nil {
		return n, err
	}
	if l.size > l.maxBytes {
		if err := l.trim(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// trim rewrites the file keeping only its last keepLines lines.
func (l *LogFile) trim() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	lines := bytes.SplitAfter(data, []byte("\n"))
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	if len(lines) > l.keepLines {
		lines = lines[len(lines)-l.keepLines:]
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, bytes.Join(lines, nil), 0644); err != nil {
		return fmt.Errorf("write trimmed log: %w", err)
	}
	l.f.Close()
	l.f = nil
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace log file: %w", err)
	}
	return l.open()
}

// Close closes the file. Later writes fail with os.ErrClosed.
func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// gatedWriter forwards to w only while enabled.
type gatedWriter struct {
	w       io.Writer
	enabled atomic.Bool
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	if !g.enabled.Load() {
		return len(p), nil
	}
	return g.w.Write(p)
}
