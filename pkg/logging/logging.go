// Package logging provides the observability sink shared by the reconstruction
// stages. Stages never print on their own: they receive a Logger and an
// optional ProgressFunc from their caller.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
)

// Level is the severity of a log message
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	SilentLevel
)

// String returns the lowercase name of the level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarningLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	case SilentLevel:
		return "silent"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to InfoLevel.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel
	case "warning", "warn":
		return WarningLevel
	case "error":
		return ErrorLevel
	case "silent", "off", "none":
		return SilentLevel
	default:
		return InfoLevel
	}
}

// Logger records messages at different severities.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the
	// text at Debug level.
	Debugf(format string, args ...interface{})

	// Infof is like Debugf, but at Info level.
	Infof(format string, args ...interface{})

	// Warningf is like Debugf, but at Warning level.
	Warningf(format string, args ...interface{})

	// Errorf is like Debugf, but at Error level.
	Errorf(format string, args ...interface{})
}

// ProgressFunc reports progress of a long-running stage. total is zero when
// the amount of work is unknown.
type ProgressFunc func(stage string, completed, total int)

// Report calls p if it is not nil.
func (p ProgressFunc) Report(stage string, completed, total int) {
	if p != nil {
		p(stage, completed, total)
	}
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{})   {}
func (nopLogger) Infof(string, ...interface{})    {}
func (nopLogger) Warningf(string, ...interface{}) {}
func (nopLogger) Errorf(string, ...interface{})   {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Config controls where log output goes.
type Config struct {
	// Level is the minimum severity written
	Level Level

	// File, when set, receives the log through a rotating writer
	File string

	// MaxSize is the size in megabytes at which the log file is rotated
	MaxSize int

	// MaxAge is the number of days rotated files are kept
	MaxAge int
}

// StdLogger writes through the standard log package, optionally into a
// rotating file.
type StdLogger struct {
	level  Level
	out    *log.Logger
	rotate *lumberjack.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a StdLogger from cfg. Without a file, messages go to stderr.
func New(cfg Config) *StdLogger {
	var w io.Writer = os.Stderr
	var rotate *lumberjack.Logger
	if cfg.File != "" {
		rotate = &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxSize, // megabytes
			MaxAge:   cfg.MaxAge,  // days
		}
		w = rotate
	}
	return &StdLogger{
		level:  cfg.Level,
		out:    log.New(w, "", log.LstdFlags),
		rotate: rotate,
	}
}

// NewWriter creates a StdLogger writing to w. Mostly useful in tests.
func NewWriter(w io.Writer, level Level) *StdLogger {
	return &StdLogger{
		level: level,
		out:   log.New(w, "", 0),
	}
}

func (l *StdLogger) printf(level Level, tag, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.out.Printf(tag+" "+format, args...)
}

func (l *StdLogger) Debugf(format string, args ...interface{}) {
	l.printf(DebugLevel, "DEBUG", format, args...)
}

func (l *StdLogger) Infof(format string, args ...interface{}) {
	l.printf(InfoLevel, "INFO", format, args...)
}

func (l *StdLogger) Warningf(format string, args ...interface{}) {
	l.printf(WarningLevel, "WARNING", format, args...)
}

func (l *StdLogger) Errorf(format string, args ...interface{}) {
	l.printf(ErrorLevel, "ERROR", format, args...)
}

// Close flushes and closes the rotating log file, if any.
func (l *StdLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.rotate == nil {
		return nil
	}
	l.closed = true
	return l.rotate.Close()
}
