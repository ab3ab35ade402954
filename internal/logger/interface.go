package logger

import "codeberg.org/mutker/iswctl/internal/errors"

// Logger is injected into the EC, monitor and control layers. Each method
// starts an event that is written by Msg or Send.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	// ErrorWithCode adds the error_code and error_message fields of err.
	ErrorWithCode(err errors.Error) *LogEvent
	// ErrorWithContext also names the component and operation that failed.
	ErrorWithContext(err errors.Error, component, operation string) *LogEvent
	// With returns a Logger that tags every event with component.
	With(component string) Logger
}
