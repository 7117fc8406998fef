// Package log provides category-scoped structured logging for ralph.
//
// All calls take a category followed by a message and alternating key/value
// pairs:
//
//	log.Debug(log.CatSession, "iteration finished", "session", id, "tokens", n)
//	log.ErrorErr(log.CatGit, "commit failed", err, "path", projectPath)
//
// The backend is a logrus logger that is silent until Init is called, which
// keeps tests and library users quiet by default.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Category groups log lines by subsystem.
type Category string

const (
	CatOrch    Category = "orch"
	CatSession Category = "session"
	CatAgent   Category = "agent"
	CatGit     Category = "git"
	CatDB      Category = "db"
	CatAPI     Category = "api"
	CatConfig  Category = "config"
)

// Options configures the global logger.
type Options struct {
	// Level is a logrus level name ("debug", "info", "warn", "error").
	Level string
	// File, when set, receives log output in addition to stderr.
	File string
	// Format selects "text" (default) or "json".
	Format string
	// Stderr forces stderr output on or off. Nil means auto: stderr is used
	// when it is not an interactive terminal or the level is debug.
	Stderr *bool
}

var (
	mu     sync.RWMutex
	logger = newDiscardLogger()
	closer io.Closer
)

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init replaces the global logger according to opts.
// It returns a cleanup function that closes any opened log file.
func Init(opts Options) (func(), error) {
	l := logrus.New()

	levelStr := opts.Level
	if env := os.Getenv("RALPH_LOG_LEVEL"); env != "" {
		levelStr = env
	}
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return func() {}, fmt.Errorf("parsing log level %q: %w", levelStr, err)
	}
	l.SetLevel(level)

	switch opts.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&textFormatter{})
	}

	var writers []io.Writer
	var file *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0750); err != nil {
			return func() {}, fmt.Errorf("creating log directory: %w", err)
		}
		file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // path comes from config
		if err != nil {
			return func() {}, fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, file)
	}

	toStderr := level >= logrus.DebugLevel || !isatty.IsTerminal(os.Stderr.Fd())
	if opts.Stderr != nil {
		toStderr = *opts.Stderr
	}
	if toStderr {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(writers[0])
	default:
		l.SetOutput(io.MultiWriter(writers...))
	}

	mu.Lock()
	prev := closer
	logger = l
	closer = nil
	if file != nil {
		closer = file
	}
	mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	return func() {
		mu.Lock()
		defer mu.Unlock()
		if closer != nil {
			_ = closer.Close()
			closer = nil
		}
		logger = newDiscardLogger()
	}, nil
}

// SetOutput redirects the global logger. Intended for tests.
func SetOutput(w io.Writer, level string) {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&textFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

func entry(cat Category, kv []any) *logrus.Entry {
	mu.RLock()
	l := logger
	mu.RUnlock()

	fields := logrus.Fields{"cat": string(cat)}
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			fields[key] = kv[i+1]
		} else {
			fields[key] = "(missing)"
		}
	}
	return l.WithFields(fields)
}

// Debug logs at debug level.
func Debug(cat Category, msg string, kv ...any) { entry(cat, kv).Debug(msg) }

// Info logs at info level.
func Info(cat Category, msg string, kv ...any) { entry(cat, kv).Info(msg) }

// Warn logs at warn level.
func Warn(cat Category, msg string, kv ...any) { entry(cat, kv).Warn(msg) }

// Error logs at error level.
func Error(cat Category, msg string, kv ...any) { entry(cat, kv).Error(msg) }

// ErrorErr logs msg with err attached under the "error" key.
func ErrorErr(cat Category, msg string, err error, kv ...any) {
	entry(cat, kv).WithError(err).Error(msg)
}

// SafeGo runs fn in a goroutine and logs instead of crashing if it panics.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Error(CatOrch, "goroutine panicked",
					"goroutine", name, "panic", fmt.Sprint(r),
					"stack", strings.TrimSpace(string(debug.Stack())))
			}
		}()
		fn()
	}()
}
