/*
Package log provides the structured logging ProseQL uses for the handful of
places the core is allowed to swallow an error instead of surfacing it:
after-hook and onChange listener panics (spec §4.7), debounced-save
failures (spec §4.5), and migration progress at database construction
(spec §4.11).

It wraps zerolog rather than the standard library's log/slog: the same
ambient need — component-scoped structured logging with a cheap global
default — is already met by zerolog elsewhere in this retrieval pack, so
ProseQL reuses that shape instead of introducing a second logging idiom.
*/
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the package-level logger. Safe for concurrent use.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Level mirrors the handful of severities ProseQL's ambient logging needs.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the package-level [Logger].
type Config struct {
	Level  Level
	Output io.Writer
}

// Init (re)configures the package-level logger. Database construction
// calls this only when the caller supplies a non-nil [proseql.Options].Logger
// override; otherwise the stderr, info-level Logger set up by init() is used.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the given component
// name, e.g. log.WithComponent("persistence").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCollection returns a child logger tagged with the given collection
// name.
func WithCollection(collection string) zerolog.Logger {
	return Logger.With().Str("collection", collection).Logger()
}
