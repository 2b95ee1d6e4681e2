// Package logging configures zerolog for the CLI and adapts it to the
// orchestrator's warning sink.
package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w at the named level. Console mode uses
// zerolog's human-readable writer. Unknown levels fall back to info.
func New(w io.Writer, level string, console bool) zerolog.Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// WarnSink forwards bundler diagnostics to a logger at warn level.
type WarnSink struct {
	Logger zerolog.Logger
}

// Warn logs msg as a single warning line.
func (s WarnSink) Warn(msg string) {
	s.Logger.Warn().Msg(msg)
}
