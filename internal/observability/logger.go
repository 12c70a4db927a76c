package observability

import (
	"github.com/danmuck/treegrid/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process logger from the runtime profile and the
// TREEGRID_LOG_* overrides, then tags it with app. Loggers from logging.For
// copy the global logger, so call this before building any component.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	log.Logger = log.Logger.With().Str("app", app).Logger()
	return log.Logger
}
