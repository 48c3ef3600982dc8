package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
)

// Init configures the global zerolog logger. Console output is meant for local runs,
// json for anything that ships logs.
func Init(cfg config.LoggingConfig) error {
	return InitWithWriter(cfg, os.Stdout)
}

func InitWithWriter(cfg config.LoggingConfig, w io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)

	switch cfg.Format {
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
	case "console", "":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Caller().Logger()
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	// contexts without a request logger fall back to the global one
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}
