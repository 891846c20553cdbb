// Package logging builds the root zerolog logger for the clinic server and
// its CLI commands.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.elastic.co/ecszerolog"
)

// Options controls logger construction.
type Options struct {
	Env     string
	Level   string
	Format  string // console, json or ecs; empty picks console in development
	Service string
}

// New returns a logger writing to stdout.
func New(opts Options) zerolog.Logger {
	return NewWithWriter(os.Stdout, opts)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(w io.Writer, opts Options) zerolog.Logger {
	format := opts.Format
	if format == "" {
		format = "json"
		if opts.Env == "development" {
			format = "console"
		}
	}

	var logger zerolog.Logger
	switch format {
	case "ecs":
		logger = ecszerolog.New(w)
	case "console":
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	default:
		logger = zerolog.New(w).With().Timestamp().Logger()
	}

	if opts.Service != "" {
		logger = logger.With().Str("service", opts.Service).Logger()
	}
	return logger.Level(ParseLevel(opts.Level))
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
