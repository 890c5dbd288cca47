package log

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewLogger создаёт настроенный zerolog. В dev пишет в консольном формате.
func NewLogger(appEnv, service string) zerolog.Logger {
	return newLogger(os.Stdout, appEnv, service)
}

func newLogger(w io.Writer, appEnv, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).With().Timestamp().Str("service", service).Logger().Level(level)
}

// WithTrace добавляет к логгеру trace id одного апдейта.
func WithTrace(base zerolog.Logger) (zerolog.Logger, string) {
	trace := uuid.NewString()
	return base.With().Str("trace", trace).Logger(), trace
}
