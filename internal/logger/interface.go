package logger

import "codeberg.org/mutker/loadlogger/internal/errors"

// Logger is the logging surface handed to components. With returns a child
// logger that tags every event with the component name.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	ErrorWithContext(err errors.Error, component, operation string) *LogEvent
	With(component string) Logger
}
