package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/liuran001/BiliSummary-Go/summary"
)

// DefaultDir is where daily log files are written.
const DefaultDir = "./log"

// Logger wraps slog.Logger to satisfy summary.Logger.
type Logger struct {
	logger  *slog.Logger
	logFile *os.File
}

// New creates a logger writing to stdout and to DefaultDir/<date>.log.
func New(level, format string, addSource bool) (*Logger, error) {
	return NewInDir(DefaultDir, level, format, addSource)
}

// NewInDir is New with a custom log directory. An empty dir logs to stdout only.
func NewInDir(dir, level, format string, addSource bool) (*Logger, error) {
	if strings.TrimSpace(dir) == "" {
		return NewWriter(os.Stdout, level, format, addSource), nil
	}
	logFile, output, err := logOutput(dir)
	if err != nil {
		return nil, err
	}
	l := NewWriter(output, level, format, addSource)
	l.logFile = logFile
	return l, nil
}

// NewWriter creates a logger writing to w.
func NewWriter(w io.Writer, level, format string, addSource bool) *Logger {
	options := &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: addSource,
	}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, options)
	} else {
		handler = slog.NewTextHandler(w, options)
	}
	return &Logger{logger: slog.New(handler)}
}

// NewDiscard returns a logger that drops everything.
func NewDiscard() *Logger {
	return NewWriter(io.Discard, "error", "text", false)
}

// With returns a child logger with additional fields.
func (l *Logger) With(args ...any) summary.Logger {
	return &Logger{logger: l.logger.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// ParseLevel maps a config level name to a slog level; unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logOutput(dir string) (*os.File, io.Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, err
	}

	fileName := time.Now().Local().Format("2006-01-02") + ".log"
	file, err := os.OpenFile(filepath.Join(dir, fileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, nil, err
	}
	if file == nil {
		return nil, nil, errors.New("log file handle is nil")
	}

	return file, io.MultiWriter(os.Stdout, file), nil
}

// Close closes the log file handle.
func (l *Logger) Close() error {
	if l == nil || l.logFile == nil {
		return nil
	}
	return l.logFile.Close()
}
