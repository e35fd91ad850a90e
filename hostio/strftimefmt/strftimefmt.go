// Package strftimefmt formats timestamped file names for persistence
// snapshots and log rotation, the same strftime pattern language
// xmit.go uses for its transmit timestamp prefix via
// github.com/lestrrat-go/strftime.
package strftimefmt

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Formatter is a precompiled strftime pattern, cheap to reuse across
// many calls (snapshot writes, log rotation checks) instead of
// reparsing the pattern string every time.
type Formatter struct {
	compiled *strftime.Strftime
}

// New precompiles pattern, e.g. "names-%Y%m%d-%H%M%S.snap".
func New(pattern string) (*Formatter, error) {
	f, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("strftimefmt: compiling pattern %q: %w", pattern, err)
	}
	return &Formatter{compiled: f}, nil
}

// Format renders t through the precompiled pattern.
func (f *Formatter) Format(t time.Time) string {
	return f.compiled.FormatString(t)
}
