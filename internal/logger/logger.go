package logger

import (
	"os"

	"tf2pug/internal/config"

	"github.com/rs/zerolog"
)

func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ApplyLevel sets the global level from the configuration. Unknown names keep
// the current level.
func ApplyLevel(cfg *config.Config, logger zerolog.Logger) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		logger.Warn().Str("level", cfg.LogLevel).Msg("unknown log level")
		return
	}
	zerolog.SetGlobalLevel(level)
	logger.Debug().Str("level", level.String()).Msg("log level applied")
}
