// Package logging builds the loggers shared by the cache, the HTTP transport
// and the command line.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log output goes. An empty File logs to stderr.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger holds one *log.Logger per concern, all writing to the same sink.
type Logger struct {
	Cache  *log.Logger
	Access *log.Logger
	Error  *log.Logger

	closer io.Closer
}

// New creates the loggers. When a file is configured it is rotated by
// lumberjack and the directory is created if missing.
func New(opts Options) (*Logger, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), os.ModePerm); err != nil {
			return nil, err
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 1),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		out = rotating
		closer = rotating
	}

	return &Logger{
		Cache:  log.New(out, "CACHE: ", log.LstdFlags),
		Access: log.New(out, "ACCESS: ", log.LstdFlags),
		Error:  log.New(out, "ERROR: ", log.LstdFlags),
		closer: closer,
	}, nil
}

// Discard returns loggers that drop everything.
func Discard() *Logger {
	return &Logger{
		Cache:  log.New(io.Discard, "", 0),
		Access: log.New(io.Discard, "", 0),
		Error:  log.New(io.Discard, "", 0),
	}
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
