package obs

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/config"
)

// NewLogger builds a zerolog.Logger from LoggingConfig, matching the
// teacher's cmd/api/main.go setupLogger: console writer in development,
// JSON in production.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
	return zerolog.New(writer).With().Timestamp().Logger()
}
