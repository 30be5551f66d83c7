package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dshills/cvsbridge/internal/config"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Log formats accepted by NewLogger.
const (
	LogFormatAuto    = "auto"
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// NewLogger builds the application logger writing to w, or os.Stderr when
// w is nil. The "auto" format picks the console writer when w is a
// terminal and JSON otherwise.
func NewLogger(cfg config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	tty := IsTerminal(w)
	var out io.Writer
	switch cfg.Format {
	case LogFormatJSON:
		out = w
	case LogFormatConsole:
		out = consoleWriter(w, tty)
	case "", LogFormatAuto:
		if tty {
			out = consoleWriter(w, true)
		} else {
			out = w
		}
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q: unsupported", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// WithComponent returns a child logger tagged with component.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func consoleWriter(w io.Writer, color bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.TimeOnly,
		NoColor:    !color,
	}
}
