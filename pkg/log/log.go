package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. It defaults to JSON on stderr so
// packages can log before Init runs; Init replaces it with the configured
// instance. Packages normally derive a component logger from it rather than
// writing through it directly.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level is a log level name: "debug", "info", "warn" or "error".
// Anything else falls back to info.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerologLevel() zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config selects the level, format and destination of the global logger.
type Config struct {
	// Level filters out entries below it. Unknown names mean info.
	Level Level

	// JSONOutput selects machine-readable output; the default is the
	// human-oriented console format.
	JSONOutput bool

	// Output is the destination writer, stderr when nil.
	Output io.Writer
}

// Init replaces the global logger. Call it once at startup, before deriving
// component loggers.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	var w io.Writer = os.Stderr
	if cfg.Output != nil {
		w = cfg.Output
	}
	if !cfg.JSONOutput {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(w).With().Timestamp().Logger()
}

// WithComponent derives a logger tagged with the emitting subsystem
// (multiplexer, heartbeat, server, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithChannelID derives a logger tagged with a call's channel id. Ids are
// opaque bytes, so they are rendered as hex.
func WithChannelID(channelID string) zerolog.Logger {
	return Logger.With().Hex("channel_id", []byte(channelID)).Logger()
}

// WithEndpoint derives a logger tagged with a transport endpoint.
func WithEndpoint(endpoint string) zerolog.Logger {
	return Logger.With().Str("endpoint", endpoint).Logger()
}

// WithMethod derives a logger tagged with the remote method being served.
func WithMethod(method string) zerolog.Logger {
	return Logger.With().Str("method", method).Logger()
}
