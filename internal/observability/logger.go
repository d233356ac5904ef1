// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

var (
	loggerMu      sync.RWMutex
	defaultLogger Logger = noopLogger{}
)

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts a *log.Logger to Logger, rendering fields as key=value pairs.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStdLogger wraps logger. Debug lines are dropped unless debug is set.
func NewStdLogger(logger *log.Logger, debug bool) *StdLogger {
	return &StdLogger{logger: logger, debug: debug}
}

// Debug logs at debug level.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if l.debug {
		l.print("DEBUG", msg, fields)
	}
}

// Info logs at info level.
func (l *StdLogger) Info(msg string, fields ...Field) { l.print("INFO", msg, fields) }

// Error logs at error level.
func (l *StdLogger) Error(msg string, fields ...Field) { l.print("ERROR", msg, fields) }

func (l *StdLogger) print(level, msg string, fields []Field) {
	if l == nil || l.logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	l.logger.Print(b.String())
}

// FileOptions configures the optional rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewWriter returns the process log sink: stdout, plus a size-rotated file
// when opts.Path is set. The closer flushes the file and is safe to call
// when no file is configured.
func NewWriter(opts FileOptions) (io.Writer, io.Closer, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return os.Stdout, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return io.MultiWriter(os.Stdout, file), file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a component logger with the gateway's standard flags.
func NewLogger(w io.Writer, prefix string) *log.Logger {
	if w == nil {
		w = os.Stdout
	}
	if prefix != "" && !strings.HasSuffix(prefix, " ") {
		prefix += " "
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}
