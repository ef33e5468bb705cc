package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	EnvLogLevel  = "BIOMECH_LOG_LEVEL"
	EnvLogFormat = "BIOMECH_LOG_FORMAT"
)

// Init initializes the global logger with configuration from environment variables.
// BIOMECH_LOG_LEVEL controls the log level: debug, info, warn, error (default: info).
// BIOMECH_LOG_FORMAT=json writes raw JSON lines (Lambda, containers); anything
// else uses the human-readable console writer on stderr.
func Init() {
	InitWithWriter(os.Stderr)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(EnvLogLevel)))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(os.Getenv(EnvLogFormat), "json") || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
