package config

import (
	"strings"

	"codeberg.org/mutker/iswctl/internal/errors"
)

// Option adjusts how Load locates its sources.
type Option func(*options) error

type options struct {
	configPath string
	envPrefix  string
}

// WithConfigFile reads path instead of the default file. Unlike the default
// file, an explicit file must exist.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return errors.New().WithMessage(errors.ErrInvalidArgument, "empty config file path")
		}
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix replaces the ISWCTL environment prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		prefix = strings.ToUpper(strings.TrimSuffix(prefix, "_"))
		if prefix == "" {
			return errors.New().WithMessage(errors.ErrInvalidArgument, "empty environment prefix")
		}
		o.envPrefix = prefix
		return nil
	}
}

// LogLevel is a configured log level name.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// ParseLogLevel accepts a level name in any case; "warn" is an alias of
// "warning".
func ParseLogLevel(s string) (LogLevel, error) {
	l := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if l == "warn" {
		l = LogLevelWarning
	}
	if !l.IsValid() {
		return "", errors.New().WithData(errors.ErrInvalidLogLevel, struct{ LogLevel string }{s})
	}
	return l, nil
}

func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	}
	return false
}

func (l LogLevel) String() string {
	return string(l)
}
