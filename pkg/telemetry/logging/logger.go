package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/juju/lumberjack/v2"

	"mercator-hq/notifier/pkg/config"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in logfmt-style text.
	FormatText LogFormat = "text"
)

// Logger owns the process-wide slog handler and the rotating file behind it,
// if any.
type Logger struct {
	slog *slog.Logger
	file *lumberjack.Logger
}

// New builds a Logger from cfg. Output goes to stdout (or w, when non-nil)
// and, if cfg.File.Path is set, also to a size-rotated file.
//
// Records carry request, changeset and trace IDs found in the context, and
// attributes holding URLs have their credentials masked.
func New(cfg config.LoggingConfig, w io.Writer) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	if w == nil {
		w = os.Stdout
	}

	l := &Logger{}
	if cfg.File.Path != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		w = io.MultiWriter(w, l.file)
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	l.slog = slog.New(&contextHandler{Handler: handler})
	return l, nil
}

// Slog returns the configured *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// SetDefault installs the logger as slog's default, so packages that log
// through slog.Default() pick it up.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.slog)
}

// Rotate closes the current log file and starts a new one. It is a no-op
// without file output.
func (l *Logger) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "debug", "DEBUG":
		return slog.LevelDebug, nil
	case "info", "INFO", "":
		return slog.LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn, nil
	case "error", "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

func parseFormat(formatStr string) (LogFormat, error) {
	switch formatStr {
	case "json", "JSON", "":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", formatStr)
	}
}
