// Package logging builds the per-component loggers.
//
// Every component takes a *log.Logger with a bracketed prefix such as
// "[sync] ". Setup decides where those loggers write: stderr, a rotating
// log file, or both.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures log output.
type Config struct {
	// File is a log file rotated by size (empty = no file)
	File string

	// MaxSizeMB is the size at which File is rotated
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept
	MaxAgeDays int

	// Verbose adds file:line to every entry
	Verbose bool

	// Quiet drops stderr output. The log file, if any, is still written.
	Quiet bool

	// Stderr overrides os.Stderr (tests)
	Stderr io.Writer
}

// Logging owns the log destination.
type Logging struct {
	out   io.Writer
	flags int
	file  *lumberjack.Logger
}

// Setup builds the log destination and points the standard logger at it.
func Setup(cfg Config) (*Logging, error) {
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, stderr)
	}

	l := &Logging{flags: log.LstdFlags}
	if cfg.Verbose {
		l.flags |= log.Lshortfile
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		writers = append(writers, l.file)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}

	log.SetOutput(l.out)
	log.SetFlags(l.flags)
	return l, nil
}

// New returns a logger for one component, e.g. New("sync") logs with
// the prefix "[sync] ".
func (l *Logging) New(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", l.flags)
}

// Writer returns the combined destination.
func (l *Logging) Writer() io.Writer {
	return l.out
}

// Close closes the log file, if any.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
