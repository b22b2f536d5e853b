// Package logging provides structured logging with file and console output.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is a single log line kept in memory for the admin API.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Logger wraps zerolog with file output and a bounded in-memory history.
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string

	mu      sync.RWMutex
	history []Entry
	maxHist int
}

// Config holds logger configuration.
type Config struct {
	Dir        string // directory for log files
	Level      string // minimum level: debug, info, warn, error
	Console    bool   // also log to console
	MaxHistory int    // entries kept in memory (default 1000)
}

// New creates a Logger writing to <dir>/livedirector_YYYY-MM-DD.log and,
// optionally, a console writer.
func New(cfg Config) (*Logger, error) {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}
	if cfg.Dir == "" {
		home, _ := os.UserHomeDir()
		cfg.Dir = filepath.Join(home, ".livedirector", "logs")
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(cfg.Dir, fmt.Sprintf("livedirector_%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	writers := []io.Writer{file}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	level := zerolog.DebugLevel
	switch cfg.Level {
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	l := &Logger{
		logPath: logPath,
		file:    file,
		history: make([]Entry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}
	l.zlog = zerolog.New(io.MultiWriter(writers...)).With().
		Timestamp().
		Str("app", "livedirector").
		Logger().
		Hook(zerolog.HookFunc(l.record))

	l.zlog.Info().Str("logFile", logPath).Str("level", cfg.Level).Msg("logger initialized")
	return l, nil
}

// record mirrors every emitted event into the bounded history.
func (l *Logger) record(e *zerolog.Event, level zerolog.Level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, Entry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     level.String(),
		Message:   msg,
	})
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
}

// History returns up to limit most recent entries (all when limit <= 0).
func (l *Logger) History(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}
	out := make([]Entry, limit)
	copy(out, l.history[len(l.history)-limit:])
	return out
}

// Path returns the current log file path.
func (l *Logger) Path() string {
	return l.logPath
}

// Component returns a child logger with the component field set.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.zlog.Info().Msg("logger shutting down")
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
