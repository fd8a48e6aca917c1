// Package logx defines the minimal logging surface edged's components
// depend on. Logging sinks are an external collaborator as far as this
// core is concerned — components take the Logger interface, never a
// concrete implementation, so tests can swap in a silent one.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the small surface every component depends on. It deliberately
// mirrors the handful of levels the kernel actually emits: component
// wiring at Debug, lifecycle transitions at Info, script/transport
// failures at Error.
type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Error() *zerolog.Event
	With() zerolog.Context
}

// logger adapts zerolog.Logger to Logger. zerolog.Logger itself already
// implements every method below with matching signatures, so wrapping is
// only needed to pin the interface — components never import zerolog
// directly.
type logger struct {
	zerolog.Logger
}

// New builds a Logger writing to w (os.Stderr by default) with the given
// component name attached to every record.
func New(w io.Writer, component string) Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return logger{zl}
}

// Console wraps New with zerolog's human-readable console writer on
// stderr; cmd/edged uses it as its logger.
func Console(component string) Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return New(cw, component)
}

// Named returns a child logger whose records carry an additional
// "service" field set to name (e.g. the Supervisor asking for a
// per-service logger). A Logger not built by New is returned unchanged.
func Named(parent Logger, name string) Logger {
	l, ok := parent.(logger)
	if !ok {
		return parent
	}
	return logger{l.Logger.With().Str("service", name).Logger()}
}

// Discard is a Logger that drops everything; used by tests.
func Discard() Logger {
	return New(io.Discard, "test")
}
