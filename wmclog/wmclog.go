// Package wmclog provides the structured logger threaded through the
// tracker, peerconn and bootstrap packages.
//
// Every exported constructor in those packages accepts an optional
// *zerolog.Logger; a nil logger is replaced with a no-op logger so
// library code never needs a nil check at the call site.
package wmclog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Nop returns a logger that discards everything written to it.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// Default returns a human-readable console logger writing to stderr,
// suitable for the cmd/wmcbootstrap demonstration binary.
func Default() *zerolog.Logger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return &l
}

// New wraps an arbitrary io.Writer as a JSON logger, for callers that
// want machine-parseable output.
func New(w io.Writer) *zerolog.Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	return &l
}

// OrNop returns l if non-nil, otherwise a no-op logger. Call this at the
// top of any constructor that accepts an optional logger.
func OrNop(l *zerolog.Logger) *zerolog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
