package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.Nop()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Options controls where and how much the logger writes.
type Options struct {
	Debug     bool
	Verbose   bool
	Level     string
	IsService bool
	// Console receives the same human readable lines as stdout, typically a
	// serial port.
	Console io.Writer
	// File receives JSON lines.
	File io.Writer
}

// Init initializes the logger based on the given configuration
func Init(opts Options) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if opts.IsService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	writers := []io.Writer{output}
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        opts.Console,
			NoColor:    true,
			TimeFormat: time.TimeOnly,
		})
	}
	if opts.File != nil {
		writers = append(writers, opts.File)
	}

	log = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	SetLogLevel(WarnLevel) // Default log level

	switch {
	case opts.Debug:
		SetLogLevel(DebugLevel)
	case opts.Verbose:
		SetLogLevel(InfoLevel)
	case opts.Level != "":
		if level, err := ParseLevel(opts.Level); err == nil {
			SetLogLevel(level)
		}
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// ParseLevel maps a configured level name to a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return WarnLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(log.Error(), err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return withCode(log.Fatal(), err)
}

func withCode(e *zerolog.Event, err errors.Error) *LogEvent {
	return &LogEvent{e.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// component is a Logger bound to a sub-logger carrying a component field.
type component struct {
	l zerolog.Logger
}

// Default returns a Logger writing through the package logger.
func Default() Logger {
	return &component{l: log}
}

// New returns a Logger tagged with the given component name.
func New(name string) Logger {
	return &component{l: log.With().Str("component", name).Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &component{l: zerolog.Nop()}
}

// FromZerolog wraps an existing zerolog logger, mostly for tests.
func FromZerolog(l zerolog.Logger) Logger {
	return &component{l: l}
}

func (c *component) Debug() *LogEvent { return &LogEvent{c.l.Debug()} }
func (c *component) Info() *LogEvent  { return &LogEvent{c.l.Info()} }
func (c *component) Warn() *LogEvent  { return &LogEvent{c.l.Warn()} }
func (c *component) Error() *LogEvent { return &LogEvent{c.l.Error()} }

func (c *component) ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(c.l.Error(), err)
}

func (c *component) ErrorWithContext(err errors.Error, name, operation string) *LogEvent {
	return &LogEvent{withCode(c.l.Error(), err).
		Str("component", name).
		Str("operation", operation)}
}

func (c *component) With(name string) Logger {
	return &component{l: c.l.With().Str("component", name).Logger()}
}
