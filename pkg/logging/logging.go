// Package logging configures the global zerolog logger used across pawfect.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Format selects the log encoding.
type Format string

const (
	FormatAuto    Format = "auto"
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseLevel converts a string level into zerolog.Level with a safe default.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init installs the global logger. With FormatAuto the console writer is used when
// stderr is a terminal and JSON lines otherwise.
func Init(level string, format Format) error {
	w, err := writerFor(os.Stderr, format, isatty.IsTerminal(os.Stderr.Fd()))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

func writerFor(out io.Writer, format Format, tty bool) (io.Writer, error) {
	switch format {
	case "", FormatAuto:
		if tty {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
		}
		return out, nil
	case FormatConsole:
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: !tty}, nil
	case FormatJSON:
		return out, nil
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
}
