package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel. Unknown names
// fall back to LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface for chatmesh.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// ChatLogger wraps slog.Logger adding component / topic context and helpers
// for the two operations worth measuring here: LLM calls and agent turns.
// With* methods return copies, so a ChatLogger can be shared freely.
type ChatLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
	topicID   string
}

// LoggerConfig configures construction of a ChatLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr}
}

// NewLogger builds a ChatLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *ChatLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return &ChatLogger{logger: slog.New(handler), level: cfg.Level, component: cfg.Component}
}

// NewSlogLogger creates a new ChatLogger writing to stderr.
func NewSlogLogger(level LogLevel, format string, addSource bool) *ChatLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource

	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent sets the logical component (engine, executor, openai, ...).
func (l *ChatLogger) WithComponent(c string) *ChatLogger {
	nl := *l
	nl.component = c

	return &nl
}

// WithTopic attaches a topic identifier to every record.
func (l *ChatLogger) WithTopic(topicID string) *ChatLogger {
	nl := *l
	nl.topicID = topicID

	return &nl
}

func (l *ChatLogger) attrs(args []any) []any {
	out := make([]any, 0, len(args)+4)
	if l.component != "" {
		out = append(out, "component", l.component)
	}
	if l.topicID != "" {
		out = append(out, "topic_id", l.topicID)
	}

	return append(out, args...)
}

func (l *ChatLogger) log(level slog.Level, msg string, args ...any) {
	l.logger.Log(context.Background(), level, msg, l.attrs(args)...)
}

// Debug logs at debug level.
func (l *ChatLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *ChatLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *ChatLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *ChatLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogLLMCall records model call latency, estimated token usage and success.
func (l *ChatLogger) LogLLMCall(model string, tokens int, dur time.Duration, success bool, err error) {
	LogLLMCall(l, model, tokens, dur, success, err)
}

// LogLLMCall records an LLM call on any Logger. An unsuccessful call without
// an error is a cancelled one and is logged at info level.
func LogLLMCall(l Logger, model string, tokens int, dur time.Duration, success bool, err error) {
	args := []any{"model", model, "token_count", tokens, "duration", dur, "success", success}
	switch {
	case success:
		l.Info("LLM call completed", args...)
	case err == nil:
		l.Info("LLM call aborted", args...)
	default:
		l.Error("LLM call failed", append(args, "error", err.Error())...)
	}
}

// LogTurn records one dispatched agent turn of an orchestration run.
func LogTurn(l Logger, speaker string, turn int, tokens int, err error) {
	args := []any{"speaker", speaker, "turn", turn, "token_count", tokens}
	if err != nil {
		l.Warn("agent turn ended with error", append(args, "error", err.Error())...)
		return
	}
	l.Info("agent turn completed", args...)
}

// LogTurn records a dispatched agent turn.
func (l *ChatLogger) LogTurn(speaker string, turn int, tokens int, err error) {
	LogTurn(l, speaker, turn, tokens, err)
}

// StartTimer returns a closure that logs and returns the elapsed duration
// when invoked.
func StartTimer(l Logger, op string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		l.Debug("operation completed", "operation", op, "duration", d)
		return d
	}
}

// ForTopic scopes l to a topic when it is a ChatLogger and returns it
// unchanged otherwise.
func ForTopic(l Logger, topicID string) Logger {
	if cl, ok := l.(*ChatLogger); ok {
		return cl.WithTopic(topicID)
	}

	return l
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
