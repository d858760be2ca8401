package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets up the global zerolog logger from LOG_LEVEL. Diagnostics go to
// stderr so that the report on stdout stays machine readable.
func Configure() {
	ConfigureWriter(os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
}

// ConfigureWriter sets up the global logger writing console output to w
func ConfigureWriter(w io.Writer, color bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLevel(os.Getenv("LOG_LEVEL")))

	console := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !color,
		TimeFormat: "15:04:05.999 |",
	}
	log.Logger = zerolog.New(console).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// WithRun returns a context whose logger tags every line with the run id
func WithRun(ctx context.Context, runID string) context.Context {
	logger := log.Ctx(ctx).With().Str("run_id", runID).Logger()
	return logger.WithContext(ctx)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
