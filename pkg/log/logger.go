package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents the severity of a log message.
type Level int

// Log levels, ordered.
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the canonical name of the level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level name. Empty input is an error so callers can
// distinguish "unset" from "invalid".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Logger is the logging interface handed to Pulse components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// With returns a child logger carrying additional fields.
	With(fields ...Field) Logger
	// WithComponent tags every record with a component name.
	WithComponent(name string) Logger

	SetLevel(level Level)
	Level() Level
}

// Config is the file/env-facing logger configuration.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Option configures a logger under construction.
type Option func(*baseLogger)

// WithLevel sets the minimum level.
func WithLevel(level Level) Option {
	return func(b *baseLogger) { b.leveler.Set(toSlogLevel(level)) }
}

// WithFormat selects text or JSON output.
func WithFormat(f Format) Option {
	return func(b *baseLogger) { b.format = f }
}

// WithWriter redirects output; defaults to stderr.
func WithWriter(w io.Writer) Option {
	return func(b *baseLogger) { b.out = w }
}

type baseLogger struct {
	sl      *slog.Logger
	leveler *slog.LevelVar
	format  Format
	out     io.Writer
	exit    func(int)
}

// NewLogger builds a Logger from options.
func NewLogger(options ...Option) Logger {
	b := &baseLogger{
		leveler: new(slog.LevelVar),
		format:  FormatText,
		out:     os.Stderr,
		exit:    os.Exit,
	}
	for _, opt := range options {
		opt(b)
	}
	hopts := &slog.HandlerOptions{Level: b.leveler}
	var h slog.Handler
	if b.format == FormatJSON {
		h = slog.NewJSONHandler(b.out, hopts)
	} else {
		h = slog.NewTextHandler(b.out, hopts)
	}
	b.sl = slog.New(h)
	return b
}

// ApplyConfig builds a logger from a Config, filling blanks from
// PULSE_LOG_LEVEL and PULSE_LOG_FORMAT.
func ApplyConfig(cfg *Config) (Logger, error) {
	levelStr := cfg.Level
	if levelStr == "" {
		levelStr = os.Getenv("PULSE_LOG_LEVEL")
	}
	level := InfoLevel
	if levelStr != "" {
		l, err := ParseLevel(levelStr)
		if err != nil {
			return nil, err
		}
		level = l
	}
	format := Format(cfg.Format)
	if format == "" {
		format = Format(os.Getenv("PULSE_LOG_FORMAT"))
	}
	switch format {
	case "", FormatText:
		format = FormatText
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return NewLogger(WithLevel(level), WithFormat(format)), nil
}

func (b *baseLogger) log(level Level, msg string, fields []Field) {
	b.sl.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs(fields)...)
}

func (b *baseLogger) Debug(msg string, fields ...Field) { b.log(DebugLevel, msg, fields) }
func (b *baseLogger) Info(msg string, fields ...Field)  { b.log(InfoLevel, msg, fields) }
func (b *baseLogger) Warn(msg string, fields ...Field)  { b.log(WarnLevel, msg, fields) }
func (b *baseLogger) Error(msg string, fields ...Field) { b.log(ErrorLevel, msg, fields) }

func (b *baseLogger) Fatal(msg string, fields ...Field) {
	b.log(FatalLevel, msg, fields)
	b.exit(1)
}

func (b *baseLogger) With(fields ...Field) Logger {
	nb := *b
	args := make([]any, 0, len(fields))
	for _, a := range attrs(fields) {
		args = append(args, a)
	}
	nb.sl = b.sl.With(args...)
	return &nb
}

func (b *baseLogger) WithComponent(name string) Logger {
	return b.With(Str("component", name))
}

func (b *baseLogger) SetLevel(level Level) { b.leveler.Set(toSlogLevel(level)) }

func (b *baseLogger) Level() Level { return fromSlogLevel(b.leveler.Level()) }

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level <= slog.LevelDebug:
		return DebugLevel
	case level == slog.LevelInfo:
		return InfoLevel
	case level == slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}
