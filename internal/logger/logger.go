package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/iswctl/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

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

// Init initializes the logger based on the given configuration
func Init(level LogLevel, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	SetLogLevel(level)
}

// ParseLevel maps a configured level name to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}

	return WarnLevel, errors.New().WithData(errors.ErrInvalidLogLevel, name)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
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

func withCode(ev *zerolog.Event, err errors.Error) *LogEvent {
	return &LogEvent{ev.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// zlogger is the injectable Logger. A nil base falls back to the global logger,
// so components created before Init still follow its output and level.
type zlogger struct {
	base      *zerolog.Logger
	component string
}

// Default returns a Logger backed by the global logger.
func Default() Logger {
	return &zlogger{}
}

// New returns a Logger writing JSON lines to w.
func New(w io.Writer) Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	return &zlogger{base: &l}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	l := zerolog.Nop()
	return &zlogger{base: &l}
}

func (z *zlogger) logger() zerolog.Logger {
	l := log
	if z.base != nil {
		l = *z.base
	}
	if z.component != "" {
		l = l.With().Str("component", z.component).Logger()
	}

	return l
}

func (z *zlogger) Debug() *LogEvent {
	l := z.logger()
	return &LogEvent{l.Debug()}
}

func (z *zlogger) Info() *LogEvent {
	l := z.logger()
	return &LogEvent{l.Info()}
}

func (z *zlogger) Warn() *LogEvent {
	l := z.logger()
	return &LogEvent{l.Warn()}
}

func (z *zlogger) Error() *LogEvent {
	l := z.logger()
	return &LogEvent{l.Error()}
}

func (z *zlogger) ErrorWithCode(err errors.Error) *LogEvent {
	l := z.logger()
	return withCode(l.Error(), err)
}

func (z *zlogger) ErrorWithContext(err errors.Error, component, operation string) *LogEvent {
	l := z.logger()
	return &LogEvent{withCode(l.Error(), err).
		Str("failed_component", component).
		Str("operation", operation)}
}

func (z *zlogger) With(component string) Logger {
	return &zlogger{base: z.base, component: component}
}
