// Package logger configures the process-wide charm logger. The TUI owns the
// terminal, so logs go to a file unless a writer is given explicitly.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultLogFileName = ".walletsync.log"

// Options controls where and how much is logged.
type Options struct {
	Level  string    // debug, info, warn, error
	File   string    // path; "~/" is expanded. Ignored when Writer is set.
	Writer io.Writer // explicit destination, e.g. os.Stderr for headless mode
}

var (
	mu   sync.RWMutex
	base = log.NewWithOptions(io.Discard, log.Options{Level: log.InfoLevel})
)

// Setup replaces the process logger. The returned closer releases the log
// file, if one was opened.
func Setup(opts Options) (io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	w := opts.Writer
	var closer io.Closer = nopCloser{}
	if w == nil {
		path, err := expandHome(opts.File)
		if err != nil {
			return nil, err
		}
		if path == "" {
			w = io.Discard
		} else {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return nil, fmt.Errorf("open log file: %w", err)
			}
			w, closer = f, f
		}
	}

	l := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})

	mu.Lock()
	base = l
	mu.Unlock()
	return closer, nil
}

// For returns a logger prefixed with the component name.
func For(component string) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithPrefix(component)
}

// ParseLevel maps a config string to a level. Empty means info.
func ParseLevel(s string) (log.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// DefaultPath returns ~/.walletsync.log.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultLogFileName), nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
