// Package logging hands out component loggers backed by zerolog.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// Configure sets the level and output format for all loggers handed out afterwards.
// An empty level keeps info.
func Configure(level string, pretty bool) error {
	return ConfigureOutput(os.Stderr, level, pretty)
}

func ConfigureOutput(w io.Writer, level string, pretty bool) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return err
		}
		lvl = parsed
	}

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	mu.Lock()
	base = zerolog.New(out).With().Timestamp().Logger().Level(lvl)
	mu.Unlock()
	return nil
}

// For returns a logger tagged with the component name.
func For(component string) *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base.With().Str("component", component).Logger()
	return &l
}
