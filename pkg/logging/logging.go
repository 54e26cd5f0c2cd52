// Package logging builds the root logger of the orchestrator.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Format string

const (
	JSON    Format = "json"
	Console Format = "console"
)

type Config struct {
	// Level is one of zerolog level names. Empty means "info".
	Level string

	// Format is JSON (default) or Console.
	Format Format
}

// New returns a logger writing to w (os.Stderr when nil).
func New(config Config, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level := zerolog.InfoLevel
	if config.Level != "" {
		l, err := zerolog.ParseLevel(config.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", config.Level, err)
		}
		level = l
	}

	switch config.Format {
	case "", JSON:
	case Console:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format: %q", config.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
