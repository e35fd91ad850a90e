package core

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Structured logging for the core, one instance per
 *		component ([MAC], [LINK], [DTN], ...), mirroring the
 *		teacher's per-subsystem textcolor/dw_printf prefixing
 *		but backed by charmbracelet/log instead of bare
 *		Serial.println/printf.
 *
 *------------------------------------------------------------------*/

// Logger is the structured logger handle every core component holds.
// A nil *Logger is valid and silently discards everything, so tests
// and components built without a host-supplied logger don't need a
// nil check at every call site.
type Logger struct {
	l *charmlog.Logger
}

// NewLogger builds a Logger that writes leveled, prefixed, timestamped
// lines to os.Stderr.
// component becomes the bracketed prefix, e.g. "MAC", "LINK", "DTN".
func NewLogger(component string) *Logger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Prefix:          component,
		ReportTimestamp: true,
	})
	return &Logger{l: l}
}

func (lg *Logger) with(fields ...any) *charmlog.Logger {
	if lg == nil || lg.l == nil {
		return nil
	}
	if len(fields) == 0 {
		return lg.l
	}
	return lg.l.With(fields...)
}

func (lg *Logger) Debug(msg string, fields ...any) {
	if l := lg.with(fields...); l != nil {
		l.Debug(msg)
	}
}

func (lg *Logger) Info(msg string, fields ...any) {
	if l := lg.with(fields...); l != nil {
		l.Info(msg)
	}
}

func (lg *Logger) Warn(msg string, fields ...any) {
	if l := lg.with(fields...); l != nil {
		l.Warn(msg)
	}
}

func (lg *Logger) Error(msg string, fields ...any) {
	if l := lg.with(fields...); l != nil {
		l.Error(msg)
	}
}
