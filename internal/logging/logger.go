// Package logging builds the process logger from configuration.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syntrixbase/livequery/internal/config"
)

const (
	mainLogFile  = "livequery.log"
	errorLogFile = "errors.log"
)

// Logger is the process logger together with the files it writes to.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// Initialize builds a logger from cfg and installs it as the slog default.
func Initialize(cfg config.LoggingConfig) (*Logger, error) {
	logger, err := New(cfg, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger.Logger)

	logger.Info("Logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"dir", cfg.Dir,
		"console_enabled", cfg.Console.Enabled,
		"file_enabled", cfg.File.Enabled,
		"async", cfg.Async.Enabled,
	)
	return logger, nil
}

// New builds a logger writing console output to console and, when file
// logging is enabled, rotated files under cfg.Dir: every record to the main
// file and warnings and errors to a separate one.
func New(cfg config.LoggingConfig, console io.Writer) (*Logger, error) {
	l := &Logger{}
	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, createHandler(console, cfg.Console.Format, parseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		main := l.openFile(cfg, mainLogFile)
		handlers = append(handlers, createHandler(main, cfg.File.Format, parseLevel(cfg.File.Level)))

		errs := l.openFile(cfg, errorLogFile)
		handlers = append(handlers, NewLevelFilter(createHandler(errs, cfg.File.Format, slog.LevelWarn), slog.LevelWarn))
	}

	switch len(handlers) {
	case 0:
		l.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	case 1:
		l.Logger = slog.New(handlers[0])
	default:
		l.Logger = slog.New(NewMultiHandler(handlers...))
	}
	return l, nil
}

func (l *Logger) openFile(cfg config.LoggingConfig, name string) io.Writer {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	if !cfg.Async.Enabled {
		l.closers = append(l.closers, file)
		return file
	}
	w := NewAsyncWriter(file, AsyncWriterConfig{
		BufferSize:   cfg.Async.BufferSize,
		BatchSize:    cfg.Async.BatchSize,
		FlushTimeout: cfg.Async.FlushTimeout,
	})
	l.closers = append(l.closers, w)
	return w
}

// Close flushes and closes the log files.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
